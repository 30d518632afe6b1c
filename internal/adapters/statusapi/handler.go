// Package statusapi exposes document status, permissions, reads and
// workflow transitions over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"partnercore/internal/core"
	"partnercore/internal/permissions"
	"partnercore/pkg/domain"
)

// Service is the part of core.Service the handler serves.
type Service interface {
	Create(ctx context.Context, req core.CreateRequest) (domain.Document, error)
	Read(ctx context.Context, actor domain.Actor, ref domain.Ref) (map[string]any, error)
	Update(ctx context.Context, req core.UpdateRequest) (domain.Document, error)
	Delete(ctx context.Context, actor domain.Actor, ref domain.Ref) error
	Status(ctx context.Context, actor domain.Actor, ref domain.Ref) (core.StatusView, error)
	Permissions(ctx context.Context, actor domain.Actor, ref domain.Ref) (map[string]permissions.Rights, error)
	History(ctx context.Context, actor domain.Actor, ref domain.Ref, meaningfulOnly bool) ([]domain.HistoryRecord, error)
	Transition(ctx context.Context, req core.TransitionRequest) (core.TransitionResult, error)
}

// Actor headers. Groups is a comma separated list.
const (
	HeaderUser    = "X-Actor-User"
	HeaderEmail   = "X-Actor-Email"
	HeaderName    = "X-Actor-Name"
	HeaderTenant  = "X-Actor-Tenant"
	HeaderOrgKind = "X-Actor-Org-Kind"
	HeaderOrgID   = "X-Actor-Org-Id"
	HeaderGroups  = "X-Actor-Groups"
)

// Handler routes /api/v1/documents requests to the service.
type Handler struct {
	svc    Service
	log    zerolog.Logger
	router chi.Router
}

// NewHandler builds the router. Extra endpoints such as /metrics can be
// mounted on Router().
func NewHandler(svc Service, log zerolog.Logger) *Handler {
	h := &Handler{svc: svc, log: log.With().Str("component", "statusapi").Logger()}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Route("/api/v1/documents/{kind}", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleRead)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Get("/status", h.handleStatus)
			r.Get("/permissions", h.handlePermissions)
			r.Get("/history", h.handleHistory)
			r.Post("/transitions", h.handleTransition)
		})
	})
	h.router = r
	return h
}

// Router returns the underlying chi router.
func (h *Handler) Router() chi.Router { return h.router }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ActorFromRequest reads the caller identity from the actor headers.
func ActorFromRequest(r *http.Request) (domain.Actor, error) {
	actor := domain.Actor{
		UserID:  r.Header.Get(HeaderUser),
		Email:   r.Header.Get(HeaderEmail),
		Name:    r.Header.Get(HeaderName),
		Tenant:  r.Header.Get(HeaderTenant),
		OrgKind: domain.OrgKind(r.Header.Get(HeaderOrgKind)),
		OrgID:   r.Header.Get(HeaderOrgID),
	}
	if raw := r.Header.Get(HeaderGroups); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				actor.Groups = append(actor.Groups, g)
			}
		}
	}
	if actor.UserID == "" && actor.Email == "" {
		return domain.Actor{}, domain.PermissionDenied("authenticate", "missing actor identity")
	}
	if actor.Tenant == "" {
		return domain.Actor{}, domain.PermissionDenied("authenticate", "missing tenant")
	}
	return actor, nil
}

// target resolves the actor and the addressed document. The document
// tenant is always the actor's tenant.
func (h *Handler) target(r *http.Request) (domain.Actor, domain.Ref, error) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		return domain.Actor{}, domain.Ref{}, err
	}
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return domain.Actor{}, domain.Ref{}, err
	}
	return actor, domain.Ref{Tenant: actor.Tenant, Kind: kind, ID: chi.URLParam(r, "id")}, nil
}

type createRequest struct {
	Patch map[string]any `json:"patch"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.svc.Create(r.Context(), core.CreateRequest{Actor: actor, Kind: ref.Kind, Patch: req.Patch})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	view, err := h.svc.Read(r.Context(), actor, domain.RefOf(doc))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": view})
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	view, err := h.svc.Read(r.Context(), actor, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": view})
}

type updateRequest struct {
	Patch           map[string]any `json:"patch"`
	ExpectedVersion int64          `json:"expected_version"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := h.svc.Update(r.Context(), core.UpdateRequest{Actor: actor, Ref: ref, Patch: req.Patch, ExpectedVersion: req.ExpectedVersion}); err != nil {
		h.writeDomainError(w, err)
		return
	}
	view, err := h.svc.Read(r.Context(), actor, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": view})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), actor, ref); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	view, err := h.svc.Status(r.Context(), actor, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	rights, err := h.svc.Permissions(r.Context(), actor, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": rights})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	meaningful := false
	if raw := r.URL.Query().Get("meaningful"); raw != "" {
		if meaningful, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "meaningful must be a boolean")
			return
		}
	}
	records, err := h.svc.History(r.Context(), actor, ref, meaningful)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

type transitionRequest struct {
	Transition      string         `json:"transition"`
	Comment         string         `json:"comment,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type transitionResponse struct {
	From     domain.Status   `json:"from"`
	To       domain.Status   `json:"to"`
	Status   core.StatusView `json:"status"`
	Notified int             `json:"notified"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ref, err := h.target(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Transition == "" {
		h.writeDomainError(w, domain.ValidationFailed("transition", domain.FieldErrors{"transition": {"This field is required."}}))
		return
	}
	result, err := h.svc.Transition(r.Context(), core.TransitionRequest{
		Actor:           actor,
		Ref:             ref,
		Transition:      req.Transition,
		Comment:         req.Comment,
		Payload:         req.Payload,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	view, err := h.svc.Status(r.Context(), actor, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{
		From:     result.From,
		To:       result.To,
		Status:   view,
		Notified: len(result.Notified),
	})
}

// decodeBody decodes a JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindPermissionDenied:
		return http.StatusForbidden
	case domain.ErrKindInvalidState, domain.ErrKindIntegrity:
		return http.StatusConflict
	case domain.ErrKindValidationFailed:
		return http.StatusBadRequest
	case domain.ErrKindConflict:
		return http.StatusPreconditionFailed
	case domain.ErrKindBusy:
		return http.StatusServiceUnavailable
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	case domain.ErrKindUnknownSubject:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind    domain.ErrorKind   `json:"kind"`
	Message string             `json:"message"`
	Fields  domain.FieldErrors `json:"fields,omitempty"`
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		h.log.Error().Err(err).Msg("unclassified error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if de.Kind == domain.ErrKindBusy {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, StatusCode(de.Kind), map[string]any{"error": errorBody{Kind: de.Kind, Message: de.Message, Fields: de.Fields}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": errorBody{Message: message}})
}
