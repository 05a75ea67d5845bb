// Package cost enriches alternative candidates with pricing and
// insurance coverage and reorders them by effective cost.
package cost

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// CoverageEntry is one formulary row: a covered medication name with
// its tier and cost-sharing terms. Entries keep their declaration
// order because substring matching is first-match-wins.
type CoverageEntry struct {
	Medication         string
	Tier               int
	CoveragePercentage float64
	Copay              float64
	HasCopay           bool
	PriorAuthorization bool
}

// CoverageSource answers formulary lookups for an insurance provider.
type CoverageSource interface {
	Coverage(ctx context.Context, provider string) ([]CoverageEntry, error)
}

// PostgresCoverage reads formulary tables from Postgres.
type PostgresCoverage struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresCoverage creates a formulary reader.
func NewPostgresCoverage(pool *pgxpool.Pool, logger *zap.Logger) *PostgresCoverage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresCoverage{pool: pool, logger: logger}
}

// Coverage returns the provider's formulary in declaration order.
func (c *PostgresCoverage) Coverage(ctx context.Context, provider string) ([]CoverageEntry, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT medication, tier, coverage_percentage, copay, copay IS NOT NULL, prior_authorization
		FROM insurance_formulary
		WHERE provider = $1
		ORDER BY position ASC`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CoverageEntry
	for rows.Next() {
		var e CoverageEntry
		var copay *float64
		if err := rows.Scan(&e.Medication, &e.Tier, &e.CoveragePercentage, &copay, &e.HasCopay, &e.PriorAuthorization); err != nil {
			return nil, err
		}
		if copay != nil {
			e.Copay = *copay
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// matchCoverage resolves coverage for a candidate: exact name first,
// then generic name, then substring partial match in declaration
// order. No match yields a not-covered record.
func matchCoverage(entries []CoverageEntry, name, genericName string) *knowledge.InsuranceCoverage {
	lowerName := strings.ToLower(name)
	lowerGeneric := strings.ToLower(genericName)

	for _, e := range entries {
		if strings.ToLower(e.Medication) == lowerName {
			return toCoverage(e, false)
		}
	}
	if lowerGeneric != "" {
		for _, e := range entries {
			if strings.ToLower(e.Medication) == lowerGeneric {
				return toCoverage(e, false)
			}
		}
	}
	for _, e := range entries {
		m := strings.ToLower(e.Medication)
		if strings.Contains(lowerName, m) || strings.Contains(m, lowerName) {
			return toCoverage(e, true)
		}
	}
	return &knowledge.InsuranceCoverage{Covered: false}
}

func toCoverage(e CoverageEntry, partial bool) *knowledge.InsuranceCoverage {
	return &knowledge.InsuranceCoverage{
		Covered:            true,
		Tier:               e.Tier,
		CoveragePercentage: e.CoveragePercentage,
		Copay:              e.Copay,
		HasCopay:           e.HasCopay,
		PriorAuthorization: e.PriorAuthorization,
		PartialMatch:       partial,
	}
}
