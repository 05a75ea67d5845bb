package interpret

import (
	"context"
	"errors"
	"testing"

	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/extraction"
)

type stubExtractor struct {
	spans rx.SpanSet
	err   error
}

func (s *stubExtractor) Extract(ctx context.Context, text, language string, handwritten bool) (rx.SpanSet, error) {
	return s.spans, s.err
}

func span(kind rx.EntityKind, text string, start int) rx.EntitySpan {
	return rx.EntitySpan{Kind: kind, Text: text, Start: start, End: start + len(text)}
}

func TestInterpretEndToEnd(t *testing.T) {
	in := New(extraction.NewLexiconExtractor(nil, nil), nil)
	text := "Dr. John Smith\nPatient: Jane Doe\nAmoxicillin 500mg three times daily for 7 days"

	p, err := in.Interpret(context.Background(), text, "en", false, 0.85)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}

	if len(p.Medications) != 1 {
		t.Fatalf("medications = %d, want 1", len(p.Medications))
	}
	med := p.Medications[0]
	if med.Name != "Amoxicillin" || med.Dosage != "500mg" ||
		med.Frequency != "three times daily" || med.Duration != "7 days" {
		t.Errorf("medication entry = %+v", med)
	}
	if p.Doctor.Name != "Dr. John Smith" {
		t.Errorf("doctor = %q", p.Doctor.Name)
	}
	if p.Patient.Name != "Jane Doe" {
		t.Errorf("patient = %q", p.Patient.Name)
	}
	if p.Confidence.Overall != 0.85 {
		t.Errorf("overall confidence = %v, want 0.85", p.Confidence.Overall)
	}
	if p.Confidence.Medications != 0.9 {
		t.Errorf("medication confidence = %v, want 0.9", p.Confidence.Medications)
	}
	if len(p.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", p.Warnings)
	}
}

func TestStrengthDistinctFromDosage(t *testing.T) {
	in := New(extraction.NewLexiconExtractor(nil, nil), nil)
	text := "Amoxicillin 250mg/5ml oral suspension, take 5ml three times a day for 7 days"

	p, err := in.Interpret(context.Background(), text, "en", false, 0.9)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if len(p.Medications) != 1 {
		t.Fatalf("medications = %d, want 1", len(p.Medications))
	}
	med := p.Medications[0]
	if med.Strength != "250mg/5ml" {
		t.Errorf("Strength = %q, want the concentration span", med.Strength)
	}
	if med.Strength == med.Dosage {
		t.Errorf("Strength duplicates Dosage (%q)", med.Dosage)
	}
}

func TestStrengthEmptyWithoutConcentrationSpan(t *testing.T) {
	in := New(extraction.NewLexiconExtractor(nil, nil), nil)

	p, err := in.Interpret(context.Background(), "Aspirin 81mg once daily", "en", false, 0.9)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	med := p.Medications[0]
	if med.Dosage != "81mg" {
		t.Errorf("Dosage = %q, want 81mg", med.Dosage)
	}
	if med.Strength != "" {
		t.Errorf("Strength = %q, want empty when no concentration appears", med.Strength)
	}
}

func TestInterpretPropagatesExtractionError(t *testing.T) {
	wantErr := &extraction.Error{Reason: "service down"}
	in := New(&stubExtractor{err: wantErr}, nil)

	_, err := in.Interpret(context.Background(), "anything", "en", false, 0.5)
	var extractionErr *extraction.Error
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want extraction.Error", err)
	}
}

func TestMedicationConfidenceHeuristic(t *testing.T) {
	cases := []struct {
		name  string
		spans rx.SpanSet
		want  float64
	}{
		{"no medications", rx.SpanSet{}, 0.0},
		{"medication only", rx.SpanSet{
			rx.KindMedication: {span(rx.KindMedication, "aspirin", 0)},
		}, 0.5},
		{"medication and dosage", rx.SpanSet{
			rx.KindMedication: {span(rx.KindMedication, "aspirin", 0)},
			rx.KindDosage:     {span(rx.KindDosage, "81mg", 8)},
		}, 0.7},
		{"medication and frequency", rx.SpanSet{
			rx.KindMedication: {span(rx.KindMedication, "aspirin", 0)},
			rx.KindFrequency:  {span(rx.KindFrequency, "once daily", 8)},
		}, 0.7},
		{"all three", rx.SpanSet{
			rx.KindMedication: {span(rx.KindMedication, "aspirin", 0)},
			rx.KindDosage:     {span(rx.KindDosage, "81mg", 8)},
			rx.KindFrequency:  {span(rx.KindFrequency, "once daily", 13)},
		}, 0.9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := New(&stubExtractor{spans: tc.spans}, nil)
			p, err := in.Interpret(context.Background(), "text", "en", false, 1.0)
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if p.Confidence.Medications != tc.want {
				t.Errorf("confidence = %v, want %v", p.Confidence.Medications, tc.want)
			}
		})
	}
}

func TestAssociationWindow(t *testing.T) {
	med := span(rx.KindMedication, "metformin", 0)

	near := span(rx.KindDosage, "500mg", 20)
	far := span(rx.KindDosage, "850mg", med.End+AssociationWindow+5)

	spans := rx.SpanSet{
		rx.KindMedication: {med},
		rx.KindDosage:     {far, near},
	}
	in := New(&stubExtractor{spans: spans}, nil)
	p, err := in.Interpret(context.Background(), "text", "en", false, 1.0)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if got := p.Medications[0].Dosage; got != "500mg" {
		t.Errorf("dosage = %q, want nearest in-window candidate 500mg", got)
	}
}

func TestAssociationOutsideWindowLeavesFieldEmpty(t *testing.T) {
	med := span(rx.KindMedication, "metformin", 0)
	spans := rx.SpanSet{
		rx.KindMedication: {med},
		rx.KindDosage:     {span(rx.KindDosage, "500mg", med.End+AssociationWindow+1)},
	}
	in := New(&stubExtractor{spans: spans}, nil)
	p, _ := in.Interpret(context.Background(), "text", "en", false, 1.0)

	if got := p.Medications[0].Dosage; got != "" {
		t.Errorf("dosage = %q, want empty outside window", got)
	}
	found := false
	for _, w := range p.Warnings {
		if w == "missing dosage for metformin" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want missing-dosage warning", p.Warnings)
	}
}

func TestNearestPrefersClosestOnEitherSide(t *testing.T) {
	// Second medication sits between two dosages; the one behind it is
	// closer than the one ahead.
	medA := span(rx.KindMedication, "warfarin", 0)
	medB := span(rx.KindMedication, "aspirin", 60)

	doseA := span(rx.KindDosage, "5mg", 10)
	doseB := span(rx.KindDosage, "81mg", 70)

	spans := rx.SpanSet{
		rx.KindMedication: {medA, medB},
		rx.KindDosage:     {doseA, doseB},
	}
	in := New(&stubExtractor{spans: spans}, nil)
	p, _ := in.Interpret(context.Background(), "text", "en", false, 1.0)

	if got := p.Medications[0].Dosage; got != "5mg" {
		t.Errorf("first dosage = %q, want 5mg", got)
	}
	if got := p.Medications[1].Dosage; got != "81mg" {
		t.Errorf("second dosage = %q, want 81mg", got)
	}
}

func TestInterpretEmptyTextYieldsEmptyPrescription(t *testing.T) {
	in := New(extraction.NewLexiconExtractor(nil, nil), nil)
	p, err := in.Interpret(context.Background(), "   ", "en", false, 0.3)
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if len(p.Medications) != 0 {
		t.Errorf("medications = %v, want none", p.Medications)
	}
	if p.Confidence.Medications != 0.0 {
		t.Errorf("medication confidence = %v, want 0.0", p.Confidence.Medications)
	}
	if p.Diagnosis == nil || p.Instructions == nil {
		t.Error("diagnosis and instructions should be empty slices, not nil")
	}
}
