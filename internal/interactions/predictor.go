// Package interactions aggregates known and predicted drug-interaction
// records for a prescription.
package interactions

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/knowledge"
)

// Predictor scores potential interactions for drug pairs that no
// knowledge source knows about.
type Predictor interface {
	PredictInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error)
}

// Prediction thresholds: pairs scoring below minScore are not
// reported; at or above highSeverityScore they are flagged High.
const (
	minScore          = 0.5
	highSeverityScore = 0.7
)

// FeatureModel predicts interactions from pharmacological feature
// overlap. The artifact (per-drug feature sets plus known edges) is
// loaded once at startup and treated as read-only by request paths;
// Reload swaps the whole artifact atomically.
type FeatureModel struct {
	mu       sync.RWMutex
	features map[string][]string
	known    map[[2]string]knowledge.InteractionRecord
	logger   *zap.Logger
}

// NewFeatureModel builds a model from in-memory data. Used directly in
// tests; production code loads from Postgres via LoadFeatureModel.
func NewFeatureModel(features map[string][]string, known []knowledge.InteractionRecord, logger *zap.Logger) *FeatureModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &FeatureModel{logger: logger}
	m.swap(features, known)
	return m
}

// LoadFeatureModel reads the model artifact from the drug_features and
// drug_interactions tables.
func LoadFeatureModel(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*FeatureModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &FeatureModel{logger: logger}
	if err := m.load(ctx, pool); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload refreshes the artifact from the database.
func (m *FeatureModel) Reload(ctx context.Context, pool *pgxpool.Pool) error {
	return m.load(ctx, pool)
}

func (m *FeatureModel) load(ctx context.Context, pool *pgxpool.Pool) error {
	features := make(map[string][]string)
	rows, err := pool.Query(ctx, `SELECT drug_name, feature FROM drug_features`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var drug, feature string
		if err := rows.Scan(&drug, &feature); err != nil {
			return err
		}
		features[drug] = append(features[drug], feature)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var known []knowledge.InteractionRecord
	krows, err := pool.Query(ctx, `
		SELECT drug1, drug2, severity, COALESCE(description,''),
		       COALESCE(effect,''), COALESCE(recommendation,''),
		       COALESCE(evidence_level,'unknown')
		FROM drug_interactions`)
	if err != nil {
		return err
	}
	defer krows.Close()
	for krows.Next() {
		r := knowledge.InteractionRecord{IsKnown: true, Confidence: 1.0}
		var severity string
		if err := krows.Scan(&r.Drug1, &r.Drug2, &severity, &r.Description,
			&r.Effect, &r.Recommendation, &r.EvidenceLevel); err != nil {
			return err
		}
		r.Severity = knowledge.SeverityLevel(severity)
		known = append(known, r)
	}
	if err := krows.Err(); err != nil {
		return err
	}

	m.swap(features, known)
	m.logger.Info("interaction model loaded",
		zap.Int("drugs", len(features)),
		zap.Int("known_interactions", len(known)))
	return nil
}

func (m *FeatureModel) swap(features map[string][]string, known []knowledge.InteractionRecord) {
	knownMap := make(map[[2]string]knowledge.InteractionRecord, len(known))
	for _, r := range known {
		knownMap[r.PairKey()] = r
	}
	m.mu.Lock()
	m.features = features
	m.known = knownMap
	m.mu.Unlock()
}

// PredictInteractions implements Predictor. Known edges return as-is
// with full confidence; unknown pairs are scored by feature overlap.
func (m *FeatureModel) PredictInteractions(ctx context.Context, medications []string) ([]knowledge.InteractionRecord, error) {
	if len(medications) < 2 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []knowledge.InteractionRecord
	for i := 0; i < len(medications); i++ {
		for j := i + 1; j < len(medications); j++ {
			if rec, ok := m.predictPair(medications[i], medications[j]); ok {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (m *FeatureModel) predictPair(drug1, drug2 string) (knowledge.InteractionRecord, bool) {
	if rec, ok := m.known[knowledge.PairKey(drug1, drug2)]; ok {
		return rec, true
	}

	f1, ok1 := m.features[drug1]
	f2, ok2 := m.features[drug2]
	if !ok1 || !ok2 {
		return knowledge.InteractionRecord{}, false
	}

	score := knowledge.OverlapRatio(f1, f2)
	if score < minScore {
		return knowledge.InteractionRecord{}, false
	}

	severity := knowledge.SeverityModerate
	if score >= highSeverityScore {
		severity = knowledge.SeverityHigh
	}
	return knowledge.InteractionRecord{
		Drug1:         drug1,
		Drug2:         drug2,
		Severity:      severity,
		Description:   "Predicted from overlapping pharmacological profiles",
		EvidenceLevel: "predicted",
		IsKnown:       false,
		Confidence:    score,
	}, true
}
