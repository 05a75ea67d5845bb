// Package interpret turns extracted entity spans into a structured
// prescription record.
package interpret

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/extraction"
)

// AssociationWindow is the maximum character distance between a
// medication span and an associated sub-field span. Spans further away
// than this are not paired.
const AssociationWindow = 100

// Interpreter builds Prescription records from OCR text.
type Interpreter struct {
	extractor extraction.Extractor
	logger    *zap.Logger
}

// New creates an interpreter over the given extraction capability.
func New(extractor extraction.Extractor, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{extractor: extractor, logger: logger}
}

// Interpret extracts entities from the OCR text and assembles a
// Prescription. Extraction failures propagate unchanged; the caller
// decides whether to retry.
func (in *Interpreter) Interpret(ctx context.Context, ocrText, language string, handwritten bool, overallConfidence float64) (*rx.Prescription, error) {
	spans, err := in.extractor.Extract(ctx, ocrText, language, handwritten)
	if err != nil {
		return nil, err
	}

	p := &rx.Prescription{
		Doctor:       extractDoctor(spans),
		Patient:      extractPatient(spans),
		Date:         spans.First(rx.KindDate),
		Medications:  associateMedications(spans),
		Diagnosis:    orEmpty(spans.Texts(rx.KindDiagnosis)),
		Instructions: orEmpty(spans.Texts(rx.KindInstruction)),
		Confidence: rx.ConfidenceScore{
			Overall:     overallConfidence,
			Medications: medicationConfidence(spans),
		},
	}
	p.Warnings = validate(p)

	in.logger.Debug("prescription interpreted",
		zap.Int("medications", len(p.Medications)),
		zap.Float64("medication_confidence", p.Confidence.Medications))

	return p, nil
}

// associateMedications pairs each medication span with the nearest
// span of each sub-field kind within the association window, measured
// by absolute character distance from the end of the medication span.
func associateMedications(spans rx.SpanSet) []rx.MedicationEntry {
	meds := spans[rx.KindMedication]
	if len(meds) == 0 {
		return []rx.MedicationEntry{}
	}

	entries := make([]rx.MedicationEntry, 0, len(meds))
	for _, med := range meds {
		entries = append(entries, rx.MedicationEntry{
			Name:         med.Text,
			Dosage:       nearest(med, spans[rx.KindDosage]),
			Frequency:    nearest(med, spans[rx.KindFrequency]),
			Duration:     nearest(med, spans[rx.KindDuration]),
			Route:        nearest(med, spans[rx.KindRoute]),
			Instructions: nearest(med, spans[rx.KindInstruction]),
			Strength:     nearest(med, spans[rx.KindStrength]),
		})
	}
	return entries
}

// nearest returns the text of the candidate closest to the medication
// span, or "" when no candidate lies within the window.
func nearest(med rx.EntitySpan, candidates []rx.EntitySpan) string {
	best := ""
	bestDist := AssociationWindow + 1
	for _, c := range candidates {
		d := c.Start - med.End
		if d < 0 {
			d = med.Start - c.End
			if d < 0 {
				d = 0 // overlapping spans count as distance zero
			}
		}
		if d < bestDist {
			bestDist = d
			best = c.Text
		}
	}
	return best
}

func extractDoctor(spans rx.SpanSet) rx.PersonInfo {
	info := rx.PersonInfo{
		Name:         spans.First(rx.KindDoctor),
		Organization: spans.First(rx.KindOrganization),
	}
	for _, contact := range spans.Texts(rx.KindContact) {
		switch {
		case strings.Contains(contact, "@"):
			if info.Email == "" {
				info.Email = contact
			}
		default:
			if info.Phone == "" {
				info.Phone = contact
			}
		}
	}
	return info
}

func extractPatient(spans rx.SpanSet) rx.PersonInfo {
	return rx.PersonInfo{
		Name: spans.First(rx.KindPatient),
		Age:  spans.First(rx.KindAge),
		DOB:  spans.First(rx.KindDOB),
		ID:   spans.First(rx.KindID),
	}
}

// medicationConfidence implements the fixed heuristic: 0.9 when both
// dosage and frequency spans are present, 0.7 when exactly one is,
// 0.5 when neither is, 0.0 when no medications were extracted.
func medicationConfidence(spans rx.SpanSet) float64 {
	if len(spans[rx.KindMedication]) == 0 {
		return 0.0
	}
	hasDosage := len(spans[rx.KindDosage]) > 0
	hasFrequency := len(spans[rx.KindFrequency]) > 0
	switch {
	case hasDosage && hasFrequency:
		return 0.9
	case hasDosage || hasFrequency:
		return 0.7
	default:
		return 0.5
	}
}

// validate flags incomplete entries. Warnings never block the
// pipeline.
func validate(p *rx.Prescription) []string {
	var warnings []string
	for _, m := range p.Medications {
		if m.Dosage == "" {
			warnings = append(warnings, "missing dosage for "+m.Name)
		}
		if m.Frequency == "" {
			warnings = append(warnings, "missing frequency for "+m.Name)
		}
	}
	return warnings
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
