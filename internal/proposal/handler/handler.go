package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"assent/internal/platform/metrics"
	"assent/internal/platform/middleware"
	"assent/internal/proposal"
	"assent/internal/quorum"
	id "assent/pkg/domain"
	dErrors "assent/pkg/domain-errors"
	"assent/pkg/platform/httputil"
	pstrings "assent/pkg/platform/strings"
	"assent/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

// Service defines the interface for proposal lifecycle operations.
type Service interface {
	Create(ctx context.Context, in proposal.CreateInput) (*proposal.Proposal, error)
	RecordDecision(ctx context.Context, proposalID id.ProposalID, in proposal.DecisionInput) (*proposal.Proposal, error)
	Get(ctx context.Context, proposalID id.ProposalID) (*proposal.Proposal, error)
	List(ctx context.Context, filter proposal.ListFilter) ([]*proposal.Proposal, error)
	Redeliver(ctx context.Context, proposalID id.ProposalID) (*proposal.Proposal, error)
}

// Handler handles proposal endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates a new proposal Handler.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

// Register registers the proposal routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/proposals", func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.ClientMetadata)
		router.Use(middleware.LatencyMiddleware(h.metrics))
		router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		router.Post("/", h.handleCreate)
		router.Get("/", h.handleList)
		router.Get("/{proposalID}", h.handleGet)
		router.Post("/{proposalID}/decisions", h.handleDecide)
		router.Post("/{proposalID}/deliver", h.handleRedeliver)
	})
}

type createRequest struct {
	Summary  string          `json:"summary"`
	Payload  json.RawMessage `json:"payload"`
	PolicyID string          `json:"policy_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	policyID, err := id.ParsePolicyID(req.PolicyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.service.Create(ctx, proposal.CreateInput{
		Summary:  req.Summary,
		Payload:  req.Payload,
		PolicyID: policyID,
	})
	if err != nil {
		h.logError(ctx, "create proposal", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

type decideRequest struct {
	Verdict string `json:"verdict"`
	// Roles optionally narrows which of the reviewer's roles the decision
	// counts under. Roles the token does not grant are refused.
	Roles     []string        `json:"roles,omitempty"`
	Amendment json.RawMessage `json:"amendment,omitempty"`
	Comment   string          `json:"comment,omitempty"`
}

// decisionRoles resolves the roles a decision counts under: the token's
// roles by default, narrowed by the request when it names a subset.
func decisionRoles(granted, requested []string) ([]string, error) {
	requested = pstrings.DedupeAndTrim(requested)
	if len(requested) == 0 {
		return granted, nil
	}
	held := make(map[string]bool, len(granted))
	for _, role := range granted {
		held[role] = true
	}
	for _, role := range requested {
		if !held[role] {
			return nil, dErrors.New(dErrors.CodeForbidden, "role "+role+" is not granted by the presented token")
		}
	}
	return requested, nil
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proposalID, err := id.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// Reviewer identity comes from the validated token, never the request
	// body; the body may only narrow the token's roles.
	roles, err := decisionRoles(requestcontext.Roles(ctx), req.Roles)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.service.RecordDecision(ctx, proposalID, proposal.DecisionInput{
		Reviewer:  requestcontext.ReviewerID(ctx),
		Roles:     roles,
		Verdict:   quorum.Verdict(req.Verdict),
		Amendment: req.Amendment,
		Comment:   req.Comment,
	})
	if err != nil {
		h.logError(ctx, "record decision", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proposalID, err := id.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.service.Get(ctx, proposalID)
	if err != nil {
		h.logError(ctx, "get proposal", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := proposal.ListFilter{State: proposal.State(r.URL.Query().Get("state"))}
	if raw := r.URL.Query().Get("policy_id"); raw != "" {
		policyID, err := id.ParsePolicyID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.PolicyID = policyID
	}

	proposals, err := h.service.List(ctx, filter)
	if err != nil {
		h.logError(ctx, "list proposals", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (h *Handler) handleRedeliver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proposalID, err := id.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.service.Redeliver(ctx, proposalID)
	if err != nil {
		h.logError(ctx, "redeliver proposal", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, p)
}

func (h *Handler) logError(ctx context.Context, op string, err error) {
	logFn := h.logger.WarnContext
	if dErrors.Is(err, dErrors.CodeInternal) || dErrors.Is(err, dErrors.CodeLedgerWrite) {
		logFn = h.logger.ErrorContext
	}
	logFn(ctx, op+" failed",
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}
