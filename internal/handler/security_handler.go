package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"auth-security/internal/enrichment"
	"auth-security/internal/models"
	"auth-security/internal/service"
	"auth-security/internal/util"
)

// Enricher is satisfied by enrichment.Enricher
type Enricher interface {
	Enrich(ctx context.Context, draft *models.DraftEvent)
}

// SecurityHandler serves event ingestion, event queries and login
type SecurityHandler struct {
	events *service.SecurityEventService
	auth   *service.AuthService
	access service.AccessPolicy
	enrich Enricher
	logger *zap.Logger
}

func NewSecurityHandler(
	events *service.SecurityEventService,
	auth *service.AuthService,
	access service.AccessPolicy,
	enrich Enricher,
	logger *zap.Logger,
) *SecurityHandler {
	if enrich == nil {
		enrich = enrichment.NewEnricher(nil)
	}
	return &SecurityHandler{
		events: events,
		auth:   auth,
		access: access,
		enrich: enrich,
		logger: logger,
	}
}

// RegisterRoutes mounts the API under the given router. authenticate guards
// every route except login and registration.
func (h *SecurityHandler) RegisterRoutes(router chi.Router, authenticate func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
	})

	router.Route("/events", func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/", h.CreateEvent)
		r.Get("/users/{userID}", h.ListUserEvents)
		r.Get("/suspicious/{userID}", h.ListSuspiciousEvents)
	})
}

type eventRequest struct {
	EventType    string            `json:"event_type"`
	DeviceInfo   *string           `json:"device_info,omitempty"`
	BiometryUsed *bool             `json:"biometry_used,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateEvent ingests an event for the authenticated caller
func (h *SecurityHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	identity, _ := IdentityFromContext(ctx)

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.EventType), models.EventTypeLoginAttempt) {
		respondWithError(w, h.logger, fmt.Errorf("%w: login attempts are recorded by the login flow", service.ErrInvalidInput),
			"LOGIN_ATTEMPT cannot be submitted directly")
		return
	}

	draft := h.draftFromRequest(r)
	draft.UserID = identity.UserID
	draft.EventType = req.EventType
	draft.BiometryUsed = req.BiometryUsed
	draft.Metadata = req.Metadata
	if req.DeviceInfo != nil {
		draft.DeviceInfo = req.DeviceInfo
	}
	h.enrich.Enrich(ctx, &draft)

	event, err := h.events.Ingest(ctx, draft)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to record event")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(event, "Event recorded"))
	h.logger.Debug("Event recorded via HTTP",
		util.String("user_id", event.UserID),
		util.Bool("suspicious", event.IsSuspicious),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *SecurityHandler) ListUserEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.events.ListByUser)
}

func (h *SecurityHandler) ListSuspiciousEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.events.ListSuspiciousByUser)
}

func (h *SecurityHandler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string) ([]*models.SecurityEvent, error)) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	identity, _ := IdentityFromContext(ctx)

	if err := h.access.Authorize(identity, userID); err != nil {
		respondWithError(w, h.logger, err, "Not allowed to read these events")
		return
	}

	events, err := fetch(ctx, userID)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to list events")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(events, ""))
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Login checks credentials under the lockout policy
func (h *SecurityHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}

	draft := h.draftFromRequest(r)
	h.enrich.Enrich(ctx, &draft)

	account, err := h.auth.Login(ctx, service.LoginRequest{
		Username:   req.Username,
		Password:   req.Password,
		IPAddress:  draft.IPAddress,
		DeviceInfo: draft.DeviceInfo,
		Metadata:   draft.Metadata,
	})
	if err != nil {
		message := "Login failed"
		if errors.Is(err, service.ErrLockedAccount) {
			message = "Account is locked"
		}
		h.logger.Info("Login failed",
			util.String("username", util.SanitizeInput(req.Username)),
			util.String("ip", *draft.IPAddress))
		respondWithError(w, h.logger, err, message)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(accountResponse{UserID: account.UserID, Username: account.Username}, "Login successful"))
}

func (h *SecurityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}

	account, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		respondWithError(w, h.logger, err, "Registration failed")
		return
	}
	respondWithJSON(w, http.StatusCreated, successResponse(accountResponse{UserID: account.UserID, Username: account.Username}, "Account created"))
}

// draftFromRequest fills the network fields from the request itself
func (h *SecurityHandler) draftFromRequest(r *http.Request) models.DraftEvent {
	ip := clientIP(r)
	draft := models.DraftEvent{IPAddress: &ip}
	if ua := r.UserAgent(); ua != "" {
		draft.DeviceInfo = &ua
	}
	return draft
}
