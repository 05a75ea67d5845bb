// Package handlers provides HTTP handlers for the interpretation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rxlens/rxlens/internal/api/middleware"
	"github.com/rxlens/rxlens/internal/domain/rx"
	"github.com/rxlens/rxlens/internal/extraction"
	"github.com/rxlens/rxlens/internal/infrastructure/postgres"
	"github.com/rxlens/rxlens/internal/knowledge"
	"github.com/rxlens/rxlens/internal/pipeline"
	"github.com/rxlens/rxlens/pkg/idempotency"
	"github.com/rxlens/rxlens/pkg/workerpool"
)

// maxImageBytes caps uploaded prescription images at 10MB.
const maxImageBytes = 10 << 20

// Inbox deduplicates submissions by idempotency key and replays the
// stored result for repeats.
type Inbox interface {
	Process(ctx context.Context, key string, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	pipeline *pipeline.Orchestrator
	repo     *postgres.PrescriptionRepository
	pool     *workerpool.Pool
	inbox    Inbox
	logger   *zap.Logger
}

// NewPrescriptionHandler creates a new handler. inbox may be nil to
// disable submission deduplication.
func NewPrescriptionHandler(p *pipeline.Orchestrator, repo *postgres.PrescriptionRepository, pool *workerpool.Pool, inbox Inbox, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		pipeline: p,
		repo:     repo,
		pool:     pool,
		inbox:    inbox,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/process", h.Process)
	r.Get("/{id}", h.Get)
	r.Get("/", h.List)
	return r
}

// Process handles POST /prescriptions/process. The request is a
// multipart form with either an "image" file or a "text" field, plus
// user_id and optional language, handwritten, insurance_provider and
// alternative filters.
func (h *PrescriptionHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "process_prescription")
	defer span.End()

	req, err := h.parseProcessRequest(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Bool("handwritten", req.Handwritten),
	)

	run := func(ctx context.Context) (json.RawMessage, error) {
		var result *pipeline.Result
		err := h.pool.Do(ctx, func(ctx context.Context) error {
			var perr error
			result, perr = h.pipeline.Process(ctx, *req)
			return perr
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	var payload json.RawMessage
	if h.inbox != nil {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			// Retries without an explicit key still dedupe on the
			// submitted content.
			key = idempotency.GenerateKey(req.UserID, submissionContent(req))
		}
		var res *idempotency.ProcessResult
		res, err = h.inbox.Process(ctx, key, run)
		if err == nil {
			payload = res.Result
		}
	} else {
		payload, err = run(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, workerpool.ErrBusy):
		h.jsonError(w, "server busy, retry later", http.StatusServiceUnavailable)
		return
	case errors.Is(err, idempotency.ErrInProgress):
		h.jsonError(w, "submission already in progress", http.StatusConflict)
		return
	default:
		var extractionErr *extraction.Error
		if errors.As(err, &extractionErr) {
			h.jsonError(w, extractionErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("processing failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		h.jsonError(w, "failed to process prescription", http.StatusInternalServerError)
		return
	}

	h.logger.Info("prescription processed",
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(payload)
}

// submissionContent is the byte content hashed into a derived
// idempotency key when the client supplies none.
func submissionContent(req *pipeline.Request) []byte {
	if len(req.Image) > 0 {
		return req.Image
	}
	return []byte(req.Text)
}

func (h *PrescriptionHandler) parseProcessRequest(r *http.Request) (*pipeline.Request, error) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		return nil, errors.New("invalid multipart form")
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	req := &pipeline.Request{
		UserID:            userID,
		Text:              r.FormValue("text"),
		Language:          r.FormValue("language"),
		InsuranceProvider: r.FormValue("insurance_provider"),
	}
	if req.Language == "" {
		req.Language = "en"
	}
	req.Handwritten, _ = strconv.ParseBool(r.FormValue("handwritten"))

	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		image, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
		if err != nil {
			return nil, errors.New("failed to read image")
		}
		req.Image = image
	}
	if req.Text == "" && len(req.Image) == 0 {
		return nil, errors.New("either image or text is required")
	}

	criteria := knowledge.DefaultCriteria()
	if v := r.FormValue("generic_only"); v != "" {
		if genericOnly, _ := strconv.ParseBool(v); genericOnly {
			criteria.IncludeBrand = false
		}
	}
	if v := r.FormValue("same_class"); v != "" {
		criteria.SameClass, _ = strconv.ParseBool(v)
	}
	req.Criteria = &criteria

	return req, nil
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	stored, err := h.repo.Get(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		h.jsonError(w, "prescription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("lookup failed", zap.String("id", id), zap.Error(err))
		h.jsonError(w, "failed to load prescription", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stored)
}

// List handles GET /prescriptions?user_id=...
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	stored, err := h.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		h.logger.Error("list failed", zap.String("user_id", userID), zap.Error(err))
		h.jsonError(w, "failed to list prescriptions", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		stored = []*rx.StoredPrescription{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stored)
}

func (h *PrescriptionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
