package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"assent/internal/ledger"
	"assent/internal/platform/metrics"
	"assent/internal/platform/middleware"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
	"assent/pkg/platform/httputil"
)

// Service defines the interface for audit ledger reads.
type Service interface {
	Query(ctx context.Context, filter ledger.Filter) ([]ledger.Entry, error)
	VerifyChain(ctx context.Context, from, to uint64) error
}

// Handler handles audit ledger endpoints. The ledger has no write surface
// over HTTP: appends happen only inside the lifecycle service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new ledger Handler.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the ledger routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/ledger", func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.LatencyMiddleware(h.metrics))
		router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		router.Get("/entries", h.handleQuery)
		router.Get("/verify", h.handleVerify)
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var filter ledger.Filter
	if raw := q.Get("proposal_id"); raw != "" {
		proposalID, err := id.ParseProposalID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.ProposalID = proposalID
	}
	if raw := q.Get("event_type"); raw != "" {
		filter.Type = ledger.EventType(raw)
	}
	var err error
	if filter.AfterSeq, err = parseSeq(q.Get("after_seq")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if filter.From, err = parseTimestamp(q, "from"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if filter.To, err = parseTimestamp(q, "to"); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "to must not precede from"))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := h.service.Query(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "query ledger failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	from, err := parseSeq(q.Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseSeq(q.Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.VerifyChain(ctx, from, to); err != nil {
		if dErrors.Is(err, dErrors.CodeTamperDetected) {
			h.logger.ErrorContext(ctx, "ledger tamper detected",
				"request_id", middleware.GetRequestID(ctx),
				"from", from,
				"to", to,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"intact": true, "from": from, "to": to})
}

func parseTimestamp(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, key+" must be an RFC 3339 timestamp")
	}
	return ts, nil
}

func parseSeq(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "sequence must be a non-negative integer")
	}
	return seq, nil
}
