package cost

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rxlens/rxlens/internal/knowledge"
)

type fakePricer struct {
	prices map[string]float64
	err    error
}

func (f *fakePricer) GetPrice(ctx context.Context, medication string) (*float64, *knowledge.PriceRange, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	p, ok := f.prices[medication]
	if !ok {
		return nil, nil, nil
	}
	return &p, &knowledge.PriceRange{Low: p * 0.8, High: p * 1.2}, nil
}

type fakeCoverage struct {
	entries []CoverageEntry
	err     error
}

func (f *fakeCoverage) Coverage(ctx context.Context, provider string) ([]CoverageEntry, error) {
	return f.entries, f.err
}

func ptr(f float64) *float64 { return &f }

func cands(c ...knowledge.AlternativeCandidate) map[string][]knowledge.AlternativeCandidate {
	return map[string][]knowledge.AlternativeCandidate{"med": c}
}

func TestOptimizeAppliesCoveragePercentageAndCopayClamp(t *testing.T) {
	coverage := &fakeCoverage{entries: []CoverageEntry{
		{Medication: "atorvastatin", Tier: 1, CoveragePercentage: 90, Copay: 5, HasCopay: true},
	}}
	o := New(nil, coverage, nil)

	out := o.Optimize(context.Background(),
		cands(knowledge.AlternativeCandidate{Name: "atorvastatin", Price: ptr(75)}),
		"acme-health")

	cand := out["med"][0]
	if cand.Coverage == nil || !cand.Coverage.Covered {
		t.Fatalf("Coverage = %+v, want covered", cand.Coverage)
	}
	// 90% coverage leaves 7.50, but the $5 copay is cheaper.
	if cand.OutOfPocket == nil || *cand.OutOfPocket != 5 {
		t.Errorf("OutOfPocket = %v, want copay clamp at 5", cand.OutOfPocket)
	}
}

func TestOptimizeWithoutCopayUsesPercentage(t *testing.T) {
	coverage := &fakeCoverage{entries: []CoverageEntry{
		{Medication: "atorvastatin", CoveragePercentage: 90},
	}}
	o := New(nil, coverage, nil)

	out := o.Optimize(context.Background(),
		cands(knowledge.AlternativeCandidate{Name: "atorvastatin", Price: ptr(75)}),
		"acme-health")

	cand := out["med"][0]
	if cand.OutOfPocket == nil || math.Abs(*cand.OutOfPocket-7.5) > 1e-9 {
		t.Errorf("OutOfPocket = %v, want 7.5", cand.OutOfPocket)
	}
}

func TestOptimizeSortsByOutOfPocketWhenInsured(t *testing.T) {
	coverage := &fakeCoverage{entries: []CoverageEntry{
		{Medication: "cheap-covered", CoveragePercentage: 80},
		{Medication: "barely-covered", CoveragePercentage: 10},
	}}
	o := New(nil, coverage, nil)

	out := o.Optimize(context.Background(), cands(
		knowledge.AlternativeCandidate{Name: "barely-covered", Price: ptr(20)}, // OOP 18
		knowledge.AlternativeCandidate{Name: "cheap-covered", Price: ptr(50)},  // OOP 10
		knowledge.AlternativeCandidate{Name: "uncovered", Price: ptr(1)},       // no OOP, sorts last
	), "acme-health")

	got := out["med"]
	if got[0].Name != "cheap-covered" || got[1].Name != "barely-covered" || got[2].Name != "uncovered" {
		t.Errorf("order = %s/%s/%s, want cheap-covered/barely-covered/uncovered",
			got[0].Name, got[1].Name, got[2].Name)
	}
}

func TestOptimizeUninsuredSortsByPrice(t *testing.T) {
	o := New(nil, nil, nil)

	out := o.Optimize(context.Background(), cands(
		knowledge.AlternativeCandidate{Name: "pricey", Price: ptr(90)},
		knowledge.AlternativeCandidate{Name: "unknown-price"},
		knowledge.AlternativeCandidate{Name: "cheap", Price: ptr(10)},
	), "")

	got := out["med"]
	if got[0].Name != "cheap" || got[1].Name != "pricey" || got[2].Name != "unknown-price" {
		t.Errorf("order = %s/%s/%s, want cheap/pricey/unknown-price",
			got[0].Name, got[1].Name, got[2].Name)
	}
}

func TestOptimizeFillsMissingPrices(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{"naproxen": 12}}
	o := New(pricer, nil, nil)

	out := o.Optimize(context.Background(),
		cands(knowledge.AlternativeCandidate{Name: "naproxen"}), "")

	cand := out["med"][0]
	if cand.Price == nil || *cand.Price != 12 {
		t.Errorf("Price = %v, want 12 from the pricer", cand.Price)
	}
	if cand.PriceRange == nil {
		t.Error("PriceRange should be filled alongside the price")
	}
}

func TestOptimizePricerFailureLeavesPriceNil(t *testing.T) {
	pricer := &fakePricer{err: errors.New("pricing down")}
	o := New(pricer, nil, nil)

	out := o.Optimize(context.Background(), cands(
		knowledge.AlternativeCandidate{Name: "a"},
		knowledge.AlternativeCandidate{Name: "b", Price: ptr(3)},
	), "")

	got := out["med"]
	if got[0].Name != "b" {
		t.Errorf("priced candidate should sort first, got %s", got[0].Name)
	}
	if got[1].Price != nil {
		t.Errorf("Price = %v, want nil after pricer failure", got[1].Price)
	}
}

func TestOptimizeCoverageFailureFallsBackToPrice(t *testing.T) {
	coverage := &fakeCoverage{err: errors.New("formulary down")}
	o := New(nil, coverage, nil)

	out := o.Optimize(context.Background(), cands(
		knowledge.AlternativeCandidate{Name: "pricey", Price: ptr(50)},
		knowledge.AlternativeCandidate{Name: "cheap", Price: ptr(5)},
	), "acme-health")

	got := out["med"]
	if got[0].Name != "cheap" {
		t.Errorf("order starts with %s, want price-only ordering", got[0].Name)
	}
	if got[0].Coverage != nil {
		t.Errorf("Coverage = %+v, want none when the formulary is unavailable", got[0].Coverage)
	}
}

func TestMatchCoverageResolutionOrder(t *testing.T) {
	entries := []CoverageEntry{
		{Medication: "statin", CoveragePercentage: 10},
		{Medication: "Atorvastatin", CoveragePercentage: 80},
	}

	// Exact beats the earlier substring entry.
	cov := matchCoverage(entries, "atorvastatin", "")
	if !cov.Covered || cov.CoveragePercentage != 80 || cov.PartialMatch {
		t.Errorf("exact match = %+v, want the atorvastatin entry", cov)
	}

	// Generic name matches when the brand does not.
	cov = matchCoverage(entries, "Lipitor", "atorvastatin")
	if !cov.Covered || cov.CoveragePercentage != 80 || cov.PartialMatch {
		t.Errorf("generic match = %+v, want the atorvastatin entry", cov)
	}

	// Substring fallback is flagged partial.
	cov = matchCoverage(entries, "rosuvastatin", "")
	if !cov.Covered || !cov.PartialMatch || cov.CoveragePercentage != 10 {
		t.Errorf("partial match = %+v, want the statin entry flagged partial", cov)
	}

	cov = matchCoverage(entries, "amoxicillin", "")
	if cov.Covered {
		t.Errorf("no match = %+v, want not covered", cov)
	}
}
