package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rxlens/rxlens/internal/alternatives"
	"github.com/rxlens/rxlens/internal/anonymize"
	"github.com/rxlens/rxlens/internal/cost"
	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/extraction"
	"github.com/rxlens/rxlens/internal/infrastructure/stream"
	"github.com/rxlens/rxlens/internal/interactions"
	"github.com/rxlens/rxlens/internal/interpret"
	"github.com/rxlens/rxlens/internal/knowledge"
)

type fakeSource struct {
	alts []knowledge.AlternativeCandidate
	recs []knowledge.InteractionRecord
}

func (f *fakeSource) Tag() knowledge.SourceTag { return knowledge.SourceKnowledgeGraph }

func (f *fakeSource) Search(ctx context.Context, query string, limit int) ([]knowledge.DrugSummary, error) {
	return nil, nil
}

func (f *fakeSource) FindAlternatives(ctx context.Context, medication string, criteria knowledge.AlternativeCriteria) ([]knowledge.AlternativeCandidate, error) {
	out := make([]knowledge.AlternativeCandidate, len(f.alts))
	copy(out, f.alts)
	return out, nil
}

func (f *fakeSource) GetInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	out := make([]knowledge.InteractionRecord, len(f.recs))
	copy(out, f.recs)
	return out, nil
}

type fakeStore struct {
	saved *rx.Prescription
	err   error
}

func (f *fakeStore) Save(ctx context.Context, userID string, p *rx.Prescription) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = p
	return "rx-123", nil
}

type fakePublisher struct {
	processed []stream.ProcessedEvent
	failures  []stream.FailureEvent
}

func (f *fakePublisher) PublishProcessed(ctx context.Context, event stream.ProcessedEvent) {
	f.processed = append(f.processed, event)
}

func (f *fakePublisher) PublishFailure(ctx context.Context, event stream.FailureEvent) {
	f.failures = append(f.failures, event)
}

func newOrchestrator(src knowledge.Source, store Store, pub Publisher) *Orchestrator {
	return New(Deps{
		Interpreter:  interpret.New(extraction.NewLexiconExtractor(nil, nil), nil),
		Alternatives: alternatives.New(alternatives.Deps{Sources: []knowledge.Source{src}, NameMode: knowledge.NameExact}, nil),
		Interactions: interactions.New([]knowledge.Source{src}, nil, nil, nil),
		Optimizer:    cost.New(nil, nil, nil),
		Anonymizer:   anonymize.New("test-salt", nil),
		Repository:   store,
		Publisher:    pub,
	}, nil)
}

func TestProcessTextRequestEndToEnd(t *testing.T) {
	src := &fakeSource{
		alts: []knowledge.AlternativeCandidate{{
			Name:            "Naproxen",
			SimilarityScore: 0.8,
			Sources:         []knowledge.SourceTag{knowledge.SourceKnowledgeGraph},
		}},
		recs: []knowledge.InteractionRecord{{
			Drug1:    "warfarin",
			Drug2:    "aspirin",
			Severity: knowledge.SeverityHigh,
			IsKnown:  true,
		}},
	}
	store := &fakeStore{}
	pub := &fakePublisher{}
	o := newOrchestrator(src, store, pub)

	result, err := o.Process(context.Background(), Request{
		UserID:   "user-1",
		Text:     "Patient: Jane Doe\nWarfarin 5mg once daily\nAspirin 81mg once daily",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Status != rx.StatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, rx.StatusCompleted)
	}
	if result.PrescriptionID != "rx-123" {
		t.Errorf("PrescriptionID = %q, want rx-123", result.PrescriptionID)
	}
	if len(result.Prescription.Medications) != 2 {
		t.Fatalf("medications = %d, want warfarin and aspirin", len(result.Prescription.Medications))
	}
	if len(result.Interactions) != 1 || result.Interactions[0].Severity != knowledge.SeverityHigh {
		t.Errorf("Interactions = %+v, want the known high-severity pair", result.Interactions)
	}
	if len(result.Alternatives) != 2 {
		t.Errorf("Alternatives keys = %d, want one list per medication", len(result.Alternatives))
	}

	if result.Prescription.Patient.Name == "Jane Doe" {
		t.Error("patient name must be anonymized before storage")
	}
	if store.saved == nil || store.saved.Patient.Name == "Jane Doe" {
		t.Error("stored prescription must be the anonymized copy")
	}

	if len(pub.processed) != 1 {
		t.Fatalf("processed events = %d, want 1", len(pub.processed))
	}
	ev := pub.processed[0]
	if ev.PrescriptionID != "rx-123" || ev.UserID != "user-1" || len(ev.Medications) != 2 {
		t.Errorf("event = %+v, want prescription id, user and medications", ev)
	}
}

func TestProcessWithoutTextOrReaderFails(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	o := newOrchestrator(&fakeSource{}, store, pub)

	_, err := o.Process(context.Background(), Request{UserID: "user-1"})
	var extractionErr *extraction.Error
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want extraction error for missing input", err)
	}
	if len(pub.failures) != 1 || pub.failures[0].Stage != "ocr" {
		t.Errorf("failures = %+v, want one ocr-stage failure event", pub.failures)
	}
}

type fakeReader struct {
	text       string
	confidence float64
	err        error
}

func (f *fakeReader) ReadText(ctx context.Context, image []byte, language string, handwritten bool) (string, float64, error) {
	return f.text, f.confidence, f.err
}

func TestProcessImageGoesThroughReader(t *testing.T) {
	store := &fakeStore{}
	o := New(Deps{
		Reader:       &fakeReader{text: "Amoxicillin 500mg twice daily", confidence: 0.9},
		Interpreter:  interpret.New(extraction.NewLexiconExtractor(nil, nil), nil),
		Alternatives: alternatives.New(alternatives.Deps{Sources: []knowledge.Source{&fakeSource{}}, NameMode: knowledge.NameExact}, nil),
		Interactions: interactions.New([]knowledge.Source{&fakeSource{}}, nil, nil, nil),
		Optimizer:    cost.New(nil, nil, nil),
		Anonymizer:   anonymize.New("test-salt", nil),
		Repository:   store,
	}, nil)

	result, err := o.Process(context.Background(), Request{
		UserID: "user-1",
		Image:  []byte("fake image bytes"),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Prescription.Medications) != 1 || result.Prescription.Medications[0].Name != "Amoxicillin" {
		t.Errorf("medications = %+v, want amoxicillin from OCR text", result.Prescription.Medications)
	}
}

func TestProcessReaderFailureIsFatal(t *testing.T) {
	o := New(Deps{
		Reader:      &fakeReader{err: errors.New("ocr service down")},
		Interpreter: interpret.New(extraction.NewLexiconExtractor(nil, nil), nil),
	}, nil)

	_, err := o.Process(context.Background(), Request{UserID: "user-1", Image: []byte("x")})
	var extractionErr *extraction.Error
	if !errors.As(err, &extractionErr) {
		t.Fatalf("err = %v, want extraction error wrapping the OCR failure", err)
	}
}

func TestProcessStoreFailureIsFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("database down")}
	pub := &fakePublisher{}
	o := newOrchestrator(&fakeSource{}, store, pub)

	_, err := o.Process(context.Background(), Request{
		UserID: "user-1",
		Text:   "Aspirin 81mg once daily",
	})
	if err == nil {
		t.Fatal("want storage failure to abort the run")
	}
	if len(pub.failures) != 1 || pub.failures[0].Stage != "store" {
		t.Errorf("failures = %+v, want one store-stage failure event", pub.failures)
	}
}
