package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRunsFunction(t *testing.T) {
	p := New(Config{Slots: 1, AcquireTimeout: time.Second}, nil)

	ran := false
	err := p.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	stats := p.Stats()
	if stats.Started != 1 || stats.Completed != 1 || stats.InFlight != 0 {
		t.Errorf("Stats = %+v, want one started and completed", stats)
	}
}

func TestDoPropagatesError(t *testing.T) {
	p := New(Config{Slots: 1, AcquireTimeout: time.Second}, nil)

	want := errors.New("pipeline failed")
	if err := p.Do(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if !p.IsHealthy() {
		t.Error("pool should have headroom after fn returns")
	}
}

func TestDoRejectsWhenFull(t *testing.T) {
	p := New(Config{Slots: 1, AcquireTimeout: 20 * time.Millisecond}, nil)

	block := make(chan struct{})
	running := make(chan struct{})
	go func() {
		p.Do(context.Background(), func(ctx context.Context) error {
			close(running)
			<-block
			return nil
		})
	}()
	<-running

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if p.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", p.Stats().Rejected)
	}
	if p.IsHealthy() {
		t.Error("full pool must report unhealthy")
	}

	close(block)
}

func TestDoHonoursCallerCancellation(t *testing.T) {
	p := New(Config{Slots: 1, AcquireTimeout: time.Minute}, nil)

	block := make(chan struct{})
	running := make(chan struct{})
	go func() {
		p.Do(context.Background(), func(ctx context.Context) error {
			close(running)
			<-block
			return nil
		})
	}()
	<-running

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Do(ctx, func(ctx context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	close(block)
}

func TestZeroConfigGetsDefaults(t *testing.T) {
	p := New(Config{}, nil)
	if p.Stats().Slots != DefaultConfig().Slots {
		t.Errorf("Slots = %d, want default %d", p.Stats().Slots, DefaultConfig().Slots)
	}
}
