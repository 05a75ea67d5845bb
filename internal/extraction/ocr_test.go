package extraction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ocrServer(t *testing.T, confidence float64, handler func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler != nil {
			handler(r)
		}
		fmt.Fprintf(w, `{"text":"Amoxicillin 500mg","confidence":%v}`, confidence)
	}))
}

func TestReadTextNormalizesPercentConfidence(t *testing.T) {
	var gotLanguage, gotKey string
	srv := ocrServer(t, 87, func(r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotLanguage = r.FormValue("language")
		gotKey = r.Header.Get("X-API-Key")
	})
	defer srv.Close()

	c := NewOCRClient(OCRConfig{BaseURL: srv.URL, APIKey: "secret"}, nil)
	text, confidence, err := c.ReadText(context.Background(), []byte("img"), "en", false)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if text != "Amoxicillin 500mg" {
		t.Errorf("text = %q", text)
	}
	if math.Abs(confidence-0.87) > 1e-9 {
		t.Errorf("confidence = %v, want 0.87", confidence)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q, want secret", gotKey)
	}
}

func TestReadTextCollapsesOutOfRangeConfidence(t *testing.T) {
	for _, reported := range []float64{-3, 150} {
		srv := ocrServer(t, reported, nil)
		c := NewOCRClient(OCRConfig{BaseURL: srv.URL}, nil)
		_, confidence, err := c.ReadText(context.Background(), []byte("img"), "en", false)
		srv.Close()
		if err != nil {
			t.Fatalf("ReadText(%v): %v", reported, err)
		}
		if confidence != 0 {
			t.Errorf("confidence for reported %v = %v, want 0", reported, confidence)
		}
	}
}

func TestReadTextServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOCRClient(OCRConfig{BaseURL: srv.URL}, nil)
	_, _, err := c.ReadText(context.Background(), []byte("img"), "en", true)
	var extractionErr *Error
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want extraction Error", err)
	}
}

func TestReadTextRejectsEmptyImage(t *testing.T) {
	c := NewOCRClient(OCRConfig{BaseURL: "http://localhost:0"}, nil)
	_, _, err := c.ReadText(context.Background(), nil, "en", false)
	var extractionErr *Error
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want extraction Error for empty payload", err)
	}
}
