package interactions

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
	"github.com/rxlens/rxlens/internal/observability/metrics"
)

// Aggregator merges known interactions from the knowledge sources with
// predicted interactions from the model.
type Aggregator struct {
	sources   []knowledge.Source
	predictor Predictor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates an interaction aggregator. predictor and m may be nil.
func New(sources []knowledge.Source, predictor Predictor, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sources:   sources,
		predictor: predictor,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("interactions-aggregator"),
	}
}

// CheckInteractions returns deduplicated interaction records for all
// drug pairs in the list, ranked by severity. Fewer than two
// medications returns an empty list without calling any source. Source
// failures degrade to empty contributions.
func (a *Aggregator) CheckInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	if len(medications) < 2 {
		return []knowledge.InteractionRecord{}, nil
	}

	ctx, span := a.tracer.Start(ctx, "check_interactions",
		trace.WithAttributes(attribute.Int("medications", len(medications))))
	defer span.End()

	knownBySource := make([][]knowledge.InteractionRecord, len(a.sources))
	var predicted []knowledge.InteractionRecord

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src knowledge.Source) {
			defer wg.Done()
			recs, err := src.GetInteractions(ctx, medications)
			if err != nil {
				if a.metrics != nil {
					a.metrics.SourceFailures.WithLabelValues(string(src.Tag())).Inc()
				}
				a.logger.Warn("interaction source failed",
					zap.String("source", string(src.Tag())),
					zap.Error(err))
				return
			}
			knownBySource[i] = recs
		}(i, src)
	}
	if a.predictor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := a.predictor.PredictInteractions(ctx, medications)
			if err != nil {
				a.logger.Warn("interaction prediction failed", zap.Error(err))
				return
			}
			predicted = recs
		}()
	}
	wg.Wait()

	var known []knowledge.InteractionRecord
	for _, recs := range knownBySource {
		known = append(known, recs...)
	}
	merged := Merge(known, predicted)

	// Descending by severity ordinal; ties keep merge-insertion order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Severity.Ordinal() > merged[j].Severity.Ordinal()
	})
	return merged, nil
}

// Merge deduplicates records by unordered drug pair. Known records
// always beat predicted ones for the same pair, with one exception:
// a known record whose evidence level is "unknown" is replaced by a
// predicted record carrying non-"unknown" evidence.
func Merge(known, predicted []knowledge.InteractionRecord) []knowledge.InteractionRecord {
	type slot struct {
		rec   knowledge.InteractionRecord
		order int
	}
	byPair := make(map[[2]string]*slot)
	var insertion [][2]string

	for _, rec := range known {
		key := rec.PairKey()
		if _, ok := byPair[key]; ok {
			continue
		}
		byPair[key] = &slot{rec: rec, order: len(insertion)}
		insertion = append(insertion, key)
	}

	for _, rec := range predicted {
		key := rec.PairKey()
		existing, ok := byPair[key]
		if !ok {
			byPair[key] = &slot{rec: rec, order: len(insertion)}
			insertion = append(insertion, key)
			continue
		}
		if existing.rec.EvidenceLevel == "unknown" && rec.EvidenceLevel != "unknown" {
			existing.rec = rec
		}
	}

	out := make([]knowledge.InteractionRecord, len(insertion))
	for i, key := range insertion {
		out[i] = byPair[key].rec
	}
	return out
}
