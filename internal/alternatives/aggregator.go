// Package alternatives aggregates therapeutic-alternative candidates
// across all configured knowledge sources.
package alternatives

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/knowledge"
	"github.com/rxlens/rxlens/internal/observability/metrics"
)

// enrichLimit caps how many top-ranked candidates per medication get
// safety and classification lookups, and how many adverse-event terms
// and recalls each lookup requests.
const enrichLimit = 3

// Aggregator fans out alternative lookups to every source and merges
// the results per medication.
type Aggregator struct {
	// sources are queried in this fixed priority order; the first
	// occurrence of a candidate name seeds its merged entry.
	sources    []knowledge.Source
	nameMode   knowledge.NameMode
	safety     knowledge.SafetyAnnotator
	classifier knowledge.Classifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Deps collects the aggregator's collaborators. Safety, Classifier
// and Metrics may be nil.
type Deps struct {
	// Sources in merge priority order: internal knowledge graph first,
	// external registries after.
	Sources    []knowledge.Source
	NameMode   knowledge.NameMode
	Safety     knowledge.SafetyAnnotator
	Classifier knowledge.Classifier
	Metrics    *metrics.Metrics
}

// New creates an aggregator.
func New(deps Deps, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sources:    deps.Sources,
		nameMode:   deps.NameMode,
		safety:     deps.Safety,
		classifier: deps.Classifier,
		metrics:    deps.Metrics,
		logger:     logger,
		tracer:     otel.Tracer("alternatives-aggregator"),
	}
}

// FindAlternatives returns merged, ranked alternatives keyed by
// medication name. A medication for which every source fails maps to
// an empty list; only merge invariant violations are fatal.
func (a *Aggregator) FindAlternatives(ctx context.Context, medications []rx.MedicationEntry, criteria *knowledge.AlternativeCriteria) (map[string][]knowledge.AlternativeCandidate, error) {
	ctx, span := a.tracer.Start(ctx, "find_alternatives",
		trace.WithAttributes(attribute.Int("medications", len(medications))))
	defer span.End()

	crit := knowledge.DefaultCriteria()
	if criteria != nil {
		crit = *criteria
	}

	out := make(map[string][]knowledge.AlternativeCandidate, len(medications))
	for _, med := range medications {
		merged, err := a.forMedication(ctx, med.Name, crit)
		if err != nil {
			return nil, err
		}
		a.enrich(ctx, merged)
		out[med.Name] = merged
	}
	return out, nil
}

// forMedication queries all sources concurrently, then merges
// single-threaded in priority order.
func (a *Aggregator) forMedication(ctx context.Context, medication string, crit knowledge.AlternativeCriteria) ([]knowledge.AlternativeCandidate, error) {
	results := make([][]knowledge.AlternativeCandidate, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src knowledge.Source) {
			defer wg.Done()
			alts, err := src.FindAlternatives(ctx, medication, crit)
			if err != nil {
				// A failed source contributes nothing.
				if a.metrics != nil {
					a.metrics.SourceFailures.WithLabelValues(string(src.Tag())).Inc()
				}
				a.logger.Warn("alternatives source failed",
					zap.String("source", string(src.Tag())),
					zap.String("medication", medication),
					zap.Error(err))
				return
			}
			results[i] = alts
		}(i, src)
	}
	wg.Wait()

	return a.merge(results)
}

// enrich annotates the top-ranked candidates with recall and
// adverse-event warnings and resolves a therapeutic class for
// candidates no source classified. Lookup failures leave the
// candidate as-is.
func (a *Aggregator) enrich(ctx context.Context, candidates []knowledge.AlternativeCandidate) {
	if a.safety == nil && a.classifier == nil {
		return
	}
	n := len(candidates)
	if n > enrichLimit {
		n = enrichLimit
	}
	for i := 0; i < n; i++ {
		cand := &candidates[i]
		if a.classifier != nil && cand.DrugClass == "" {
			atc, err := a.classifier.GetATCClassification(ctx, cand.Name)
			switch {
			case err != nil:
				a.logger.Warn("atc lookup failed",
					zap.String("candidate", cand.Name), zap.Error(err))
			case atc != nil:
				cand.DrugClass = atc.Name
			}
		}
		if a.safety == nil {
			continue
		}
		recalls, err := a.safety.SearchRecalls(ctx, cand.Name, enrichLimit)
		if err != nil {
			a.logger.Warn("recall lookup failed",
				zap.String("candidate", cand.Name), zap.Error(err))
		}
		for _, reason := range recalls {
			cand.Warnings = append(cand.Warnings, "recall: "+reason)
		}
		events, err := a.safety.AdverseEvents(ctx, cand.Name, enrichLimit)
		if err != nil {
			a.logger.Warn("adverse event lookup failed",
				zap.String("candidate", cand.Name), zap.Error(err))
		}
		if len(events) > 0 {
			cand.Warnings = append(cand.Warnings, "reported adverse events: "+strings.Join(events, ", "))
		}
	}
}

// merge deduplicates candidates by canonical name across the source
// result lists, in priority order.
//
// Merge rules: first occurrence seeds the entry; later occurrences
// append their provenance tag and fill only absent fields (a value
// once present is never overwritten); IsEssential is sticky once set.
func (a *Aggregator) merge(bySource [][]knowledge.AlternativeCandidate) ([]knowledge.AlternativeCandidate, error) {
	type slot struct {
		cand  *knowledge.AlternativeCandidate
		order int
	}
	seen := make(map[string]*slot)
	var ordered []*slot

	for _, alts := range bySource {
		for i := range alts {
			cand := alts[i]
			if cand.Name == "" {
				return nil, &knowledge.MergeInvariantError{Detail: "alternative candidate missing name"}
			}
			key := knowledge.CanonicalName(cand.Name, a.nameMode)
			existing, ok := seen[key]
			if !ok {
				c := cand
				if len(c.Sources) == 0 {
					return nil, &knowledge.MergeInvariantError{Detail: "candidate " + cand.Name + " missing provenance"}
				}
				s := &slot{cand: &c, order: len(ordered)}
				seen[key] = s
				ordered = append(ordered, s)
				continue
			}
			fill(existing.cand, &cand)
		}
	}

	merged := make([]knowledge.AlternativeCandidate, len(ordered))
	for i, s := range ordered {
		merged[i] = *s.cand
	}

	// Descending by similarity; ties keep first-encountered order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].SimilarityScore > merged[j].SimilarityScore
	})
	return merged, nil
}

// fill applies the idempotent-fill rule from src into dst.
func fill(dst, src *knowledge.AlternativeCandidate) {
	for _, tag := range src.Sources {
		if !hasTag(dst.Sources, tag) {
			dst.Sources = append(dst.Sources, tag)
		}
	}
	if dst.GenericName == "" {
		dst.GenericName = src.GenericName
	}
	if dst.DrugClass == "" {
		dst.DrugClass = src.DrugClass
	}
	if dst.Strength == "" {
		dst.Strength = src.Strength
	}
	if dst.Form == "" {
		dst.Form = src.Form
	}
	if dst.Manufacturer == "" {
		dst.Manufacturer = src.Manufacturer
	}
	if dst.Price == nil {
		dst.Price = src.Price
	}
	if dst.PriceRange == nil {
		dst.PriceRange = src.PriceRange
	}
	if !dst.IsGeneric {
		dst.IsGeneric = src.IsGeneric
	}
	if dst.SimilarityScore == 0 {
		dst.SimilarityScore = src.SimilarityScore
	}
	if src.IsEssential {
		dst.IsEssential = true
	}
	dst.Warnings = append(dst.Warnings, src.Warnings...)
}

func hasTag(tags []knowledge.SourceTag, tag knowledge.SourceTag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
