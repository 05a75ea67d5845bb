package cost

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// Optimizer fills missing prices, applies insurance coverage and
// reorders candidates by effective cost.
type Optimizer struct {
	pricer   knowledge.Pricer
	coverage CoverageSource
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates an optimizer. pricer and coverage may each be nil, in
// which case the corresponding enrichment is skipped.
func New(pricer knowledge.Pricer, coverage CoverageSource, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		pricer:   pricer,
		coverage: coverage,
		logger:   logger,
		tracer:   otel.Tracer("cost-optimizer"),
	}
}

// Optimize enriches and reorders the per-medication candidate lists.
// A pricing failure for one candidate leaves its price nil (it sorts
// last); coverage-source failure disables insurance for the batch.
// Neither aborts the request.
func (o *Optimizer) Optimize(ctx context.Context, alternatives map[string][]knowledge.AlternativeCandidate, insuranceProvider string) map[string][]knowledge.AlternativeCandidate {
	ctx, span := o.tracer.Start(ctx, "optimize_cost",
		trace.WithAttributes(
			attribute.Int("medications", len(alternatives)),
			attribute.Bool("insured", insuranceProvider != "")))
	defer span.End()

	var entries []CoverageEntry
	if insuranceProvider != "" && o.coverage != nil {
		var err error
		entries, err = o.coverage.Coverage(ctx, insuranceProvider)
		if err != nil {
			o.logger.Warn("coverage lookup failed, optimizing on price only",
				zap.String("provider", insuranceProvider),
				zap.Error(err))
			entries = nil
		}
	}
	insured := len(entries) > 0

	out := make(map[string][]knowledge.AlternativeCandidate, len(alternatives))
	for medication, alts := range alternatives {
		optimized := make([]knowledge.AlternativeCandidate, len(alts))
		copy(optimized, alts)

		for i := range optimized {
			o.enrich(ctx, &optimized[i], entries, insured)
		}

		sort.SliceStable(optimized, func(i, j int) bool {
			return effectiveCost(&optimized[i], insured) < effectiveCost(&optimized[j], insured)
		})
		out[medication] = optimized
	}
	return out
}

func (o *Optimizer) enrich(ctx context.Context, cand *knowledge.AlternativeCandidate, entries []CoverageEntry, insured bool) {
	if cand.Price == nil && o.pricer != nil {
		price, priceRange, err := o.pricer.GetPrice(ctx, cand.Name)
		if err != nil {
			o.logger.Warn("price lookup failed",
				zap.String("candidate", cand.Name),
				zap.Error(err))
		} else {
			if price != nil {
				cand.Price = price
			}
			if priceRange != nil {
				cand.PriceRange = priceRange
			}
		}
	}

	if !insured {
		return
	}

	cov := matchCoverage(entries, cand.Name, cand.GenericName)
	cand.Coverage = cov
	if cov.Covered && cand.Price != nil {
		oop := *cand.Price * (1 - cov.CoveragePercentage/100)
		if cov.HasCopay && cov.Copay < oop {
			oop = cov.Copay
		}
		cand.OutOfPocket = &oop
	}
}

// effectiveCost returns the sort key: out-of-pocket when insurance
// applies, retail price otherwise. Missing values sort last.
func effectiveCost(cand *knowledge.AlternativeCandidate, insured bool) float64 {
	const missing = 1e18
	if insured {
		if cand.OutOfPocket != nil {
			return *cand.OutOfPocket
		}
		return missing
	}
	if cand.Price != nil {
		return *cand.Price
	}
	return missing
}
