// Package graph implements the internal drug knowledge source on top
// of Postgres relation tables (drug→class, drug→indication,
// drug→interaction edges).
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// Cache is the optional read-through cache consulted before hitting
// the database. It is not required for correctness.
type Cache interface {
	Get(kind, id string) (any, bool)
	Set(kind, id string, value any, ttl time.Duration)
}

const (
	cacheKindAlternatives = "graph.alternatives"
	cacheKindProperties   = "graph.properties"

	alternativesLimit = 10
	cacheTTL          = time.Hour
)

// Source is the graph-backed knowledge source.
type Source struct {
	pool   *pgxpool.Pool
	cache  Cache
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a graph source. cache may be nil.
func New(pool *pgxpool.Pool, cache Cache, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		pool:   pool,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("knowledge-graph"),
	}
}

// Tag implements knowledge.Source.
func (s *Source) Tag() knowledge.SourceTag { return knowledge.SourceKnowledgeGraph }

// Search finds drugs whose name, generic name or alias matches the
// query, case-insensitively.
func (s *Source) Search(ctx context.Context, query string, limit int) ([]knowledge.DrugSummary, error) {
	ctx, span := s.tracer.Start(ctx, "graph_search",
		trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	if limit <= 0 {
		limit = alternativesLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT d.name, COALESCE(d.generic_name,''), COALESCE(d.drug_class,''),
		       COALESCE(d.strength,''), COALESCE(d.form,''), COALESCE(d.manufacturer,'')
		FROM drugs d
		WHERE d.name ILIKE '%' || $1 || '%'
		   OR d.generic_name ILIKE '%' || $1 || '%'
		   OR EXISTS (SELECT 1 FROM drug_aliases a WHERE a.drug_name = d.name AND a.alias ILIKE '%' || $1 || '%')
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, s.unavailable("search", err)
	}
	defer rows.Close()

	var out []knowledge.DrugSummary
	for rows.Next() {
		var d knowledge.DrugSummary
		if err := rows.Scan(&d.Name, &d.GenericName, &d.DrugClass, &d.Strength, &d.Form, &d.Manufacturer); err != nil {
			return nil, s.unavailable("search scan", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindAlternatives traverses drug→class→drug (SameClass) or
// drug→indication→drug relations, filters by generic/brand flags,
// orders by (is_generic desc, price asc) limited to 10, then scores
// each candidate and re-sorts by similarity.
func (s *Source) FindAlternatives(ctx context.Context, medication string, criteria knowledge.AlternativeCriteria) ([]knowledge.AlternativeCandidate, error) {
	ctx, span := s.tracer.Start(ctx, "graph_find_alternatives",
		trace.WithAttributes(
			attribute.String("medication", medication),
			attribute.Bool("same_class", criteria.SameClass)))
	defer span.End()

	cacheKey := fmt.Sprintf("%s|%v|%v|%v", medication, criteria.SameClass, criteria.IncludeGeneric, criteria.IncludeBrand)
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKindAlternatives, cacheKey); ok {
			if alts, ok := v.([]knowledge.AlternativeCandidate); ok {
				return cloneCandidates(alts), nil
			}
		}
	}

	relation := "drug_indications"
	column := "indication"
	if criteria.SameClass {
		relation = "drug_class_edges"
		column = "class_name"
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT alt.name, COALESCE(alt.generic_name,''), COALESCE(alt.drug_class,''),
		       COALESCE(alt.strength,''), COALESCE(alt.form,''), COALESCE(alt.manufacturer,''),
		       alt.average_price, alt.is_generic
		FROM %[1]s r1
		JOIN %[1]s r2 ON r1.%[2]s = r2.%[2]s AND r2.drug_name <> r1.drug_name
		JOIN drugs alt ON alt.name = r2.drug_name
		WHERE r1.drug_name = $1`, relation, column)

	switch {
	case criteria.IncludeGeneric && !criteria.IncludeBrand:
		query += " AND alt.is_generic = true"
	case !criteria.IncludeGeneric && criteria.IncludeBrand:
		query += " AND alt.is_generic = false"
	}
	query += fmt.Sprintf(" ORDER BY alt.is_generic DESC, alt.average_price ASC NULLS LAST LIMIT %d", alternativesLimit)

	rows, err := s.pool.Query(ctx, query, medication)
	if err != nil {
		return nil, s.unavailable("find alternatives", err)
	}
	defer rows.Close()

	var alts []knowledge.AlternativeCandidate
	for rows.Next() {
		var a knowledge.AlternativeCandidate
		if err := rows.Scan(&a.Name, &a.GenericName, &a.DrugClass, &a.Strength, &a.Form,
			&a.Manufacturer, &a.Price, &a.IsGeneric); err != nil {
			return nil, s.unavailable("alternatives scan", err)
		}
		a.Sources = []knowledge.SourceTag{s.Tag()}
		alts = append(alts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("alternatives rows", err)
	}

	for i := range alts {
		alts[i].SimilarityScore = s.similarity(ctx, medication, alts[i].Name)
	}
	sortBySimilarity(alts)

	if s.cache != nil {
		s.cache.Set(cacheKindAlternatives, cacheKey, cloneCandidates(alts), cacheTTL)
	}
	return alts, nil
}

// GetInteractions returns known interactions where both drugs appear
// in the input list.
func (s *Source) GetInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "graph_get_interactions",
		trace.WithAttributes(attribute.Int("medications", len(medications))))
	defer span.End()

	if len(medications) < 2 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.drug1, i.drug2, i.severity, COALESCE(i.description,''),
		       COALESCE(i.effect,''), COALESCE(i.recommendation,''),
		       COALESCE(i.evidence_level,'unknown')
		FROM drug_interactions i
		WHERE i.drug1 = ANY($1) AND i.drug2 = ANY($1)`, medications)
	if err != nil {
		return nil, s.unavailable("get interactions", err)
	}
	defer rows.Close()

	var out []knowledge.InteractionRecord
	for rows.Next() {
		r := knowledge.InteractionRecord{IsKnown: true, Confidence: 1.0}
		var severity string
		if err := rows.Scan(&r.Drug1, &r.Drug2, &severity, &r.Description,
			&r.Effect, &r.Recommendation, &r.EvidenceLevel); err != nil {
			return nil, s.unavailable("interactions scan", err)
		}
		r.Severity = knowledge.SeverityLevel(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

// drugRelations holds the relation sets behind the similarity blend.
type drugRelations struct {
	Classes     []string
	Indications []string
}

// similarity blends class and indication overlap, falling back to
// bigram Jaccard over the names when relation data is unavailable.
func (s *Source) similarity(ctx context.Context, drug1, drug2 string) float64 {
	r1, err1 := s.relations(ctx, drug1)
	r2, err2 := s.relations(ctx, drug2)
	if err1 != nil || err2 != nil {
		s.logger.Debug("relation lookup failed, using name similarity",
			zap.String("drug1", drug1), zap.String("drug2", drug2))
		return knowledge.BigramSimilarity(drug1, drug2)
	}
	if len(r1.Classes)+len(r1.Indications) == 0 || len(r2.Classes)+len(r2.Indications) == 0 {
		return knowledge.BigramSimilarity(drug1, drug2)
	}
	return knowledge.BlendedSimilarity(r1.Classes, r2.Classes, r1.Indications, r2.Indications)
}

func (s *Source) relations(ctx context.Context, drug string) (*drugRelations, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKindProperties, drug); ok {
			if rel, ok := v.(*drugRelations); ok {
				return rel, nil
			}
		}
	}

	rel := &drugRelations{}
	rows, err := s.pool.Query(ctx, `
		SELECT 'class', class_name FROM drug_class_edges WHERE drug_name = $1
		UNION ALL
		SELECT 'indication', indication FROM drug_indications WHERE drug_name = $1`, drug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, err
		}
		if kind == "class" {
			rel.Classes = append(rel.Classes, value)
		} else {
			rel.Indications = append(rel.Indications, value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(cacheKindProperties, drug, rel, cacheTTL)
	}
	return rel, nil
}

func (s *Source) unavailable(op string, err error) error {
	s.logger.Warn("knowledge graph query failed", zap.String("op", op), zap.Error(err))
	return &knowledge.UnavailableError{Source: s.Tag(), Err: fmt.Errorf("%s: %w", op, err)}
}

func sortBySimilarity(alts []knowledge.AlternativeCandidate) {
	// Stable insertion keeps the (is_generic, price) database order for
	// equal scores.
	for i := 1; i < len(alts); i++ {
		for j := i; j > 0 && alts[j].SimilarityScore > alts[j-1].SimilarityScore; j-- {
			alts[j], alts[j-1] = alts[j-1], alts[j]
		}
	}
}

func cloneCandidates(in []knowledge.AlternativeCandidate) []knowledge.AlternativeCandidate {
	out := make([]knowledge.AlternativeCandidate, len(in))
	copy(out, in)
	for i := range out {
		out[i].Sources = append([]knowledge.SourceTag(nil), in[i].Sources...)
	}
	return out
}
