package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		FailureRatio:     0.6,
		MinRequests:      100,
	}
}

func TestExecutePassesThroughResult(t *testing.T) {
	cb, err := New(testConfig("test"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.(string) != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestExecutePropagatesError(t *testing.T) {
	cb, _ := New(testConfig("test"), nil)

	want := errors.New("registry down")
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if IsRejection(err) {
		t.Error("an attempted failure is not a rejection")
	}
}

func TestConsecutiveFailuresOpenCircuit(t *testing.T) {
	cb, _ := New(testConfig("test"), nil)

	fail := func() (interface{}, error) { return nil, errors.New("down") }
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}

	if !cb.IsOpen() {
		t.Fatalf("state = %s, want open after consecutive failures", cb.GetState())
	}

	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if !IsRejection(err) {
		t.Errorf("err = %v, want open-circuit rejection", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	var gotName string
	var gotStates []State
	cfg := testConfig("registry")
	cfg.OnStateChange = func(name string, state State) {
		gotName = name
		gotStates = append(gotStates, state)
	}
	cb, _ := New(cfg, nil)

	fail := func() (interface{}, error) { return nil, errors.New("down") }
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), fail)
	}

	if gotName != "registry" {
		t.Errorf("callback name = %q, want registry", gotName)
	}
	if len(gotStates) != 1 || gotStates[0] != StateOpen {
		t.Errorf("callback states = %v, want the single transition to open", gotStates)
	}
}

func TestManagerReturnsSameBreaker(t *testing.T) {
	m := NewManager(nil)

	a, err := m.GetOrCreate("drug-registry", testConfig(""))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := m.GetOrCreate("drug-registry", testConfig(""))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Error("same name must return the same breaker")
	}

	if _, ok := m.Get("drug-registry"); !ok {
		t.Error("Get must find the created breaker")
	}
	if _, ok := m.Get("unknown"); ok {
		t.Error("Get must miss for unknown names")
	}
}

func TestHealthStatus(t *testing.T) {
	m := NewManager(nil)
	m.GetOrCreate("drug-registry", testConfig(""))
	m.GetOrCreate("essential-medicines", testConfig(""))

	statuses := m.GetHealthStatus()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy || s.State != StateClosed {
			t.Errorf("status %+v, want healthy closed breaker", s)
		}
	}
}
