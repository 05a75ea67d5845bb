// Package postgres provides durable storage for processed
// prescriptions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/domain/rx"
)

// PersistenceError marks a failure at the storage boundary. It is
// fatal for the request and surfaces as a 5xx-equivalent.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNotFound is returned when no prescription exists for an id.
var ErrNotFound = errors.New("prescription not found")

// PrescriptionRepository stores anonymized prescriptions as JSONB
// documents keyed by an opaque id.
type PrescriptionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPrescriptionRepository creates a repository.
func NewPrescriptionRepository(pool *pgxpool.Pool, logger *zap.Logger) *PrescriptionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionRepository{pool: pool, logger: logger}
}

// Save persists an anonymized prescription and returns its id.
func (r *PrescriptionRepository) Save(ctx context.Context, userID string, p *rx.Prescription) (string, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return "", &PersistenceError{Op: "marshal", Err: err}
	}

	id := uuid.New().String()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO prescriptions (id, user_id, document, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, userID, doc, time.Now().UTC())
	if err != nil {
		r.logger.Error("prescription save failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return "", &PersistenceError{Op: "save", Err: err}
	}
	return id, nil
}

// Get loads a stored prescription, or ErrNotFound.
func (r *PrescriptionRepository) Get(ctx context.Context, id string) (*rx.StoredPrescription, error) {
	var (
		doc       []byte
		userID    string
		createdAt time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, document, created_at FROM prescriptions WHERE id = $1`, id).
		Scan(&userID, &doc, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}

	var p rx.Prescription
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, &PersistenceError{Op: "unmarshal", Err: err}
	}
	return &rx.StoredPrescription{
		ID:           id,
		UserID:       userID,
		Prescription: &p,
		CreatedAt:    createdAt,
	}, nil
}

// ListByUser returns recent prescriptions for a user, newest first.
func (r *PrescriptionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*rx.StoredPrescription, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, document, created_at FROM prescriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*rx.StoredPrescription
	for rows.Next() {
		var (
			id        string
			doc       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &doc, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "list scan", Err: err}
		}
		var p rx.Prescription
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, &PersistenceError{Op: "list unmarshal", Err: err}
		}
		out = append(out, &rx.StoredPrescription{
			ID:           id,
			UserID:       userID,
			Prescription: &p,
			CreatedAt:    createdAt,
		})
	}
	return out, rows.Err()
}
