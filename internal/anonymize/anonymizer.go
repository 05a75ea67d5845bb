// Package anonymize masks protected health information before a
// prescription is persisted.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
)

// PII patterns scrubbed from free-text fields.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),                          // SSN
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),       // email
	regexp.MustCompile(`\b(?:\+\d{1,2}\s?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), // phone
	regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),                              // card number
	regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),                        // date of birth
}

// Anonymizer replaces patient-identifying fields with masked or
// hashed values. Called exactly once, after interpretation and before
// storage.
type Anonymizer struct {
	salt   string
	logger *zap.Logger
}

// New creates an anonymizer. An empty salt gets a random one, which is
// fine because the hashes only need to be stable within one record.
func New(salt string, logger *zap.Logger) *Anonymizer {
	if salt == "" {
		salt = uuid.New().String()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anonymizer{salt: salt, logger: logger}
}

// Anonymize returns a copy of the prescription with PHI removed. The
// input is not modified.
func (a *Anonymizer) Anonymize(p *rx.Prescription) *rx.Prescription {
	out := *p

	out.Patient = rx.PersonInfo{
		Name: a.hash(p.Patient.Name),
		Age:  p.Patient.Age, // coarse enough to keep
		DOB:  mask(p.Patient.DOB),
		ID:   a.hash(p.Patient.ID),
	}
	out.Doctor = rx.PersonInfo{
		Name:         p.Doctor.Name,
		Organization: p.Doctor.Organization,
		Email:        mask(p.Doctor.Email),
		Phone:        mask(p.Doctor.Phone),
	}

	out.Instructions = scrubAll(p.Instructions)
	out.Diagnosis = scrubAll(p.Diagnosis)
	out.Warnings = scrubAll(p.Warnings)

	return &out
}

// ScrubText masks PII patterns occurring in free text.
func ScrubText(text string) string {
	for _, pattern := range piiPatterns {
		text = pattern.ReplaceAllStringFunc(text, mask)
	}
	return text
}

func scrubAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = ScrubText(s)
	}
	return out
}

// hash replaces a value with a salted SHA-256 digest.
func (a *Anonymizer) hash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value + a.salt))
	return hex.EncodeToString(sum[:])
}

// mask keeps the first and last character of a value.
func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) < 4 {
		return "****"
	}
	return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
}
