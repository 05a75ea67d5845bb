package interactions

import (
	"context"
	"testing"

	"github.com/rxlens/rxlens/internal/knowledge"
)

func TestPredictKnownPairReturnedAsIs(t *testing.T) {
	known := []knowledge.InteractionRecord{{
		Drug1:         "warfarin",
		Drug2:         "aspirin",
		Severity:      knowledge.SeverityHigh,
		Description:   "Increased bleeding risk",
		EvidenceLevel: "established",
		IsKnown:       true,
		Confidence:    1.0,
	}}
	m := NewFeatureModel(nil, known, nil)

	out, err := m.PredictInteractions(context.Background(), []string{"aspirin", "warfarin"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("records = %d, want 1", len(out))
	}
	if !out[0].IsKnown || out[0].Description != "Increased bleeding risk" {
		t.Errorf("record = %+v, want known edge returned unmodified", out[0])
	}
}

func TestPredictLowOverlapDropped(t *testing.T) {
	features := map[string][]string{
		"a": {"f1", "f2", "f3", "f4"},
		"b": {"f1", "g2", "g3", "g4"},
	}
	m := NewFeatureModel(features, nil, nil)

	out, err := m.PredictInteractions(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("records = %v, want overlap below threshold dropped", out)
	}
}

func TestPredictModerateAndHighSeverity(t *testing.T) {
	features := map[string][]string{
		"a": {"f1", "f2", "f3", "f4"},
		"b": {"f1", "f2", "f3", "g4"},       // shared 3, union 5 = 0.6
		"c": {"f1", "f2", "f3", "f4", "f5"}, // shared 4, union 5 = 0.8 with a
	}
	m := NewFeatureModel(features, nil, nil)

	out, err := m.PredictInteractions(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 1 || out[0].Severity != knowledge.SeverityModerate {
		t.Fatalf("records = %+v, want one Moderate prediction", out)
	}
	if out[0].EvidenceLevel != "predicted" || out[0].IsKnown {
		t.Errorf("record = %+v, want predicted evidence and IsKnown=false", out[0])
	}
	if out[0].Confidence != 0.6 {
		t.Errorf("Confidence = %v, want overlap ratio 0.6", out[0].Confidence)
	}

	out, err = m.PredictInteractions(context.Background(), []string{"a", "c"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 1 || out[0].Severity != knowledge.SeverityHigh {
		t.Errorf("records = %+v, want one High prediction at overlap 0.8", out)
	}
}

func TestPredictUnknownDrugSkipped(t *testing.T) {
	features := map[string][]string{"a": {"f1", "f2"}}
	m := NewFeatureModel(features, nil, nil)

	out, err := m.PredictInteractions(context.Background(), []string{"a", "mystery"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("records = %v, want pairs with missing features skipped", out)
	}
}

func TestPredictSingleMedication(t *testing.T) {
	m := NewFeatureModel(map[string][]string{"a": {"f1"}}, nil, nil)
	out, err := m.PredictInteractions(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("PredictInteractions: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("records = %v, want none for a single medication", out)
	}
}
