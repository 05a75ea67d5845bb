// Package pipeline orchestrates the full prescription flow: OCR text
// capture, interpretation, concurrent alternative and interaction
// lookup, cost optimization, anonymization and storage.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/alternatives"
	"github.com/rxlens/rxlens/internal/anonymize"
	"github.com/rxlens/rxlens/internal/cost"
	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/extraction"
	"github.com/rxlens/rxlens/internal/infrastructure/stream"
	"github.com/rxlens/rxlens/internal/interactions"
	"github.com/rxlens/rxlens/internal/interpret"
	"github.com/rxlens/rxlens/internal/knowledge"
	"github.com/rxlens/rxlens/internal/observability/metrics"
)

// TextReader turns a prescription image into OCR text with a
// confidence in [0,1]. Implementations reading from services that
// report percentages normalize before returning.
type TextReader interface {
	ReadText(ctx context.Context, image []byte, language string, handwritten bool) (text string, confidence float64, err error)
}

// Publisher emits pipeline events. A nil Publisher disables events.
type Publisher interface {
	PublishProcessed(ctx context.Context, event stream.ProcessedEvent)
	PublishFailure(ctx context.Context, event stream.FailureEvent)
}

// Store persists anonymized prescriptions.
type Store interface {
	Save(ctx context.Context, userID string, p *rx.Prescription) (string, error)
}

// Request is one processing submission. Text bypasses OCR when the
// caller already has the raw prescription text.
type Request struct {
	UserID            string
	Image             []byte
	Text              string
	Language          string
	Handwritten       bool
	InsuranceProvider string
	Criteria          *knowledge.AlternativeCriteria
}

// Result is the terminal output of a pipeline run.
type Result struct {
	PrescriptionID string                                      `json:"prescription_id"`
	Status         rx.Status                                   `json:"status"`
	Prescription   *rx.Prescription                            `json:"prescription"`
	Alternatives   map[string][]knowledge.AlternativeCandidate `json:"alternatives"`
	Interactions   []knowledge.InteractionRecord               `json:"interactions"`
	DurationMS     int64                                       `json:"duration_ms"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	reader       TextReader
	interpreter  *interpret.Interpreter
	alternatives *alternatives.Aggregator
	interactions *interactions.Aggregator
	optimizer    *cost.Optimizer
	anonymizer   *anonymize.Anonymizer
	repository   Store
	publisher    Publisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Deps collects the orchestrator's collaborators. Publisher and
// Metrics may be nil.
type Deps struct {
	Reader       TextReader
	Interpreter  *interpret.Interpreter
	Alternatives *alternatives.Aggregator
	Interactions *interactions.Aggregator
	Optimizer    *cost.Optimizer
	Anonymizer   *anonymize.Anonymizer
	Repository   Store
	Publisher    Publisher
	Metrics      *metrics.Metrics
}

// New creates an orchestrator.
func New(deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		reader:       deps.Reader,
		interpreter:  deps.Interpreter,
		alternatives: deps.Alternatives,
		interactions: deps.Interactions,
		optimizer:    deps.Optimizer,
		anonymizer:   deps.Anonymizer,
		repository:   deps.Repository,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		logger:       logger,
		tracer:       otel.Tracer("pipeline"),
	}
}

// Process runs a request through every stage. Interpretation errors
// abort the run; knowledge, pricing and coverage failures degrade to
// empty results so the caller always gets the interpreted
// prescription back.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline_process",
		trace.WithAttributes(
			attribute.String("user_id", req.UserID),
			attribute.Bool("handwritten", req.Handwritten),
		))
	defer span.End()

	if o.metrics != nil {
		o.metrics.ActivePipelines.Inc()
		defer o.metrics.ActivePipelines.Dec()
	}

	start := time.Now()
	status := rx.StatusReceived

	text, ocrConfidence, err := o.readText(ctx, req)
	if err != nil {
		return nil, o.fail(ctx, span, req.UserID, "ocr", err)
	}

	prescription, err := o.runStage(ctx, "interpret", func(ctx context.Context) (*rx.Prescription, error) {
		return o.interpreter.Interpret(ctx, text, req.Language, req.Handwritten, ocrConfidence)
	})
	if err != nil {
		return nil, o.fail(ctx, span, req.UserID, "interpret", err)
	}
	status, _ = rx.Transition(status, rx.StatusInterpreted)

	names := prescription.MedicationNames()

	// Alternatives and interactions need only the medication list and
	// are independent of each other.
	var (
		wg   sync.WaitGroup
		alts map[string][]knowledge.AlternativeCandidate
		ints []knowledge.InteractionRecord
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stageStart := time.Now()
		var err error
		alts, err = o.alternatives.FindAlternatives(ctx, prescription.Medications, req.Criteria)
		o.observeStage("alternatives", stageStart)
		if err != nil {
			o.logger.Warn("alternative lookup degraded", zap.Error(err))
			alts = map[string][]knowledge.AlternativeCandidate{}
		}
	}()
	go func() {
		defer wg.Done()
		stageStart := time.Now()
		var err error
		ints, err = o.interactions.CheckInteractions(ctx, names)
		o.observeStage("interactions", stageStart)
		if err != nil {
			o.logger.Warn("interaction check degraded", zap.Error(err))
			ints = []knowledge.InteractionRecord{}
		}
	}()
	wg.Wait()

	status, _ = rx.Transition(status, rx.StatusAlternativesFound)
	status, _ = rx.Transition(status, rx.StatusInteractionsChecked)

	stageStart := time.Now()
	alts = o.optimizer.Optimize(ctx, alts, req.InsuranceProvider)
	o.observeStage("cost", stageStart)
	status, _ = rx.Transition(status, rx.StatusCostOptimized)

	stageStart = time.Now()
	anonymized := o.anonymizer.Anonymize(prescription)
	id, err := o.repository.Save(ctx, req.UserID, anonymized)
	o.observeStage("store", stageStart)
	if err != nil {
		span.RecordError(err)
		if o.metrics != nil {
			o.metrics.PrescriptionsFailed.Inc()
		}
		o.publishFailure(req.UserID, "store", err)
		return nil, err
	}
	status, _ = rx.Transition(status, rx.StatusStored)
	status, _ = rx.Transition(status, rx.StatusCompleted)

	duration := time.Since(start)
	if o.metrics != nil {
		o.metrics.PrescriptionsProcessed.Inc()
	}

	result := &Result{
		PrescriptionID: id,
		Status:         status,
		Prescription:   anonymized,
		Alternatives:   alts,
		Interactions:   ints,
		DurationMS:     duration.Milliseconds(),
	}

	o.publishProcessed(result, req.UserID, len(names))

	o.logger.Info("prescription processed",
		zap.String("prescription_id", id),
		zap.Int("medications", len(names)),
		zap.Int("interactions", len(ints)),
		zap.Duration("duration", duration))

	return result, nil
}

func (o *Orchestrator) readText(ctx context.Context, req Request) (string, float64, error) {
	if req.Text != "" {
		return req.Text, 1.0, nil
	}
	if o.reader == nil {
		return "", 0, &extraction.Error{Reason: "no OCR reader configured"}
	}
	stageStart := time.Now()
	text, confidence, err := o.reader.ReadText(ctx, req.Image, req.Language, req.Handwritten)
	o.observeStage("ocr", stageStart)
	if err != nil {
		return "", 0, &extraction.Error{Reason: "OCR failed", Err: err}
	}
	return text, confidence, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage string, fn func(ctx context.Context) (*rx.Prescription, error)) (*rx.Prescription, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline_"+stage)
	defer span.End()

	start := time.Now()
	p, err := fn(ctx)
	o.observeStage(stage, start)
	if err != nil {
		span.RecordError(err)
	}
	return p, err
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// fail records a terminal failure reachable only before or during
// interpretation.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, userID, stage string, err error) error {
	span.RecordError(err)
	if o.metrics != nil {
		o.metrics.PrescriptionsFailed.Inc()
	}
	o.logger.Error("pipeline failed",
		zap.String("stage", stage),
		zap.String("user_id", userID),
		zap.Error(err))
	o.publishFailure(userID, stage, err)
	return err
}

func (o *Orchestrator) publishFailure(userID, stage string, err error) {
	if o.publisher == nil {
		return
	}
	o.publisher.PublishFailure(context.Background(), stream.FailureEvent{
		UserID:     userID,
		Stage:      stage,
		Reason:     err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishProcessed(result *Result, userID string, medications int) {
	if o.publisher == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.EventsPublished.Inc()
	}
	o.publisher.PublishProcessed(context.Background(), stream.ProcessedEvent{
		PrescriptionID: result.PrescriptionID,
		UserID:         userID,
		Status:         result.Status,
		Medications:    result.Prescription.MedicationNames(),
		Interactions:   len(result.Interactions),
		Alternatives:   len(result.Alternatives),
		DurationMS:     result.DurationMS,
		OccurredAt:     time.Now().UTC(),
	})
}
