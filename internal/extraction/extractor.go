// Package extraction adapts an NLP entity-extraction capability into
// typed spans consumed by the interpreter.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/rxlens/rxlens/internal/domain/rx"
)

// Error indicates the extraction capability itself failed. It is fatal
// for the current request: without entities the confidence score would
// be meaningless, so there is no silent fallback.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entity extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "entity extraction failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor turns raw OCR text into typed entity spans.
//
// Empty or whitespace-only text yields an empty SpanSet and a nil
// error. The handwritten flag lets implementations loosen matching for
// handwritten scripts.
type Extractor interface {
	Extract(ctx context.Context, text, language string, handwritten bool) (rx.SpanSet, error)
}

// normalizeText trims the input and reports whether anything remains.
func normalizeText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	return trimmed, trimmed != ""
}
