// Package rx defines the core data model for the prescription
// interpretation and recommendation pipeline.
package rx

import "time"

// EntityKind classifies a span extracted from prescription text.
type EntityKind string

const (
	KindMedication   EntityKind = "MEDICATION"
	KindDosage       EntityKind = "DOSAGE"
	KindStrength     EntityKind = "STRENGTH"
	KindFrequency    EntityKind = "FREQUENCY"
	KindDuration     EntityKind = "DURATION"
	KindRoute        EntityKind = "ROUTE"
	KindInstruction  EntityKind = "INSTRUCTION"
	KindDoctor       EntityKind = "DOCTOR"
	KindPatient      EntityKind = "PATIENT"
	KindOrganization EntityKind = "ORGANIZATION"
	KindContact      EntityKind = "CONTACT"
	KindDate         EntityKind = "DATE"
	KindAge          EntityKind = "AGE"
	KindDOB          EntityKind = "DOB"
	KindID           EntityKind = "ID"
	KindDiagnosis    EntityKind = "DIAGNOSIS"
)

// EntitySpan is a typed, positioned fragment of the OCR text.
// Spans are immutable once produced by the extraction adapter.
type EntitySpan struct {
	Kind  EntityKind `json:"kind"`
	Text  string     `json:"text"`
	Start int        `json:"start"`
	End   int        `json:"end"`
}

// SpanSet holds the extracted spans grouped by kind, in order of
// appearance in the source text.
type SpanSet map[EntityKind][]EntitySpan

// Texts returns the span texts for a kind, in appearance order.
func (s SpanSet) Texts(kind EntityKind) []string {
	spans := s[kind]
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// First returns the first span text of a kind, or "" if none exists.
func (s SpanSet) First(kind EntityKind) string {
	if spans := s[kind]; len(spans) > 0 {
		return spans[0].Text
	}
	return ""
}

// Empty reports whether no spans of any kind were extracted.
func (s SpanSet) Empty() bool {
	for _, spans := range s {
		if len(spans) > 0 {
			return false
		}
	}
	return true
}

// MedicationEntry is one medication with its associated sub-fields.
// Absent fields are empty strings, never an error.
type MedicationEntry struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Route        string `json:"route,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Strength     string `json:"strength,omitempty"`
}

// PersonInfo identifies a doctor or patient mentioned on the prescription.
type PersonInfo struct {
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Age          string `json:"age,omitempty"`
	DOB          string `json:"dob,omitempty"`
	ID           string `json:"id,omitempty"`
}

// ConfidenceScore carries the source-provided OCR confidence together
// with the derived medication-extraction confidence.
//
// Medications is computed by a fixed heuristic and is always one of
// 0.0, 0.5, 0.7 or 0.9.
type ConfidenceScore struct {
	Overall     float64 `json:"overall"`
	Medications float64 `json:"medications"`
}

// Prescription is the structured result of one interpretation call.
// It is constructed once and immutable afterwards.
type Prescription struct {
	Doctor       PersonInfo        `json:"doctor"`
	Patient      PersonInfo        `json:"patient"`
	Date         string            `json:"date,omitempty"`
	Medications  []MedicationEntry `json:"medications"`
	Diagnosis    []string          `json:"diagnosis"`
	Instructions []string          `json:"instructions"`
	Confidence   ConfidenceScore   `json:"confidence"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// MedicationNames returns the names of all extracted medications.
func (p *Prescription) MedicationNames() []string {
	names := make([]string, len(p.Medications))
	for i, m := range p.Medications {
		names[i] = m.Name
	}
	return names
}

// StoredPrescription is the persisted, anonymized form of a processed
// prescription.
type StoredPrescription struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Prescription *Prescription `json:"prescription"`
	CreatedAt    time.Time     `json:"created_at"`
}
