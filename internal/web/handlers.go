package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alavescortez-del/gingerai-sub000/internal/engine"
	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handlers struct {
	orchestrator *engine.Orchestrator
	catalog      interfaces.CatalogStore
	messages     interfaces.MessageStore
	hub          *EventHub
	log          *logger.Logger
}

func NewHandlers(orchestrator *engine.Orchestrator, catalog interfaces.CatalogStore, messages interfaces.MessageStore, hub *EventHub, log *logger.Logger) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		catalog:      catalog,
		messages:     messages,
		hub:          hub,
		log:          log.With("component", "web"),
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "gingerai",
	})
}

// TurnRequest is one user utterance submitted for a reply.
type TurnRequest struct {
	TurnID     string `json:"turn_id,omitempty"`
	Mode       string `json:"mode"` // "scenario" | "direct"
	PersonaID  string `json:"persona_id"`
	ScenarioID string `json:"scenario_id,omitempty"`
	Utterance  string `json:"utterance"`
	Locale     string `json:"locale,omitempty"`
}

// PhotoAttachment describes a delivered photo.
type PhotoAttachment struct {
	Ref     string `json:"ref"`
	Blurred bool   `json:"blurred"`
}

// LimitReached carries the structured quota denial.
type LimitReached struct {
	Kind string `json:"kind"`
	Plan string `json:"plan"`
}

// TurnResponse mirrors the orchestrator's typed result on the wire.
type TurnResponse struct {
	Status         string           `json:"status"`
	Reply          string           `json:"reply,omitempty"`
	Supplementary  []string         `json:"supplementary,omitempty"`
	Photo          *PhotoAttachment `json:"photo,omitempty"`
	LimitReached   *LimitReached    `json:"limit_reached,omitempty"`
	Transitioned   bool             `json:"transitioned,omitempty"`
	PhaseOrdinal   int              `json:"phase_ordinal,omitempty"`
	Affinity       int              `json:"affinity,omitempty"`
	ActiveMediaRef string           `json:"active_media_ref,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Turn handles POST /api/v1/chat/turn.
func (h *Handlers) Turn(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		unauthorized(w, "missing identity")
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "invalid request body"})
		return
	}
	if req.Utterance == "" || req.PersonaID == "" {
		writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "utterance and persona_id are required"})
		return
	}

	mode := models.ModeDirect
	if req.Mode == string(models.ModeScenario) {
		if req.ScenarioID == "" {
			writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "scenario_id is required in scenario mode"})
			return
		}
		mode = models.ModeScenario
	}

	locale := req.Locale
	if locale == "" {
		locale = identity.Locale
	}

	now := time.Now()
	result, err := h.orchestrator.Turn(r.Context(), engine.TurnInput{
		TurnID:     req.TurnID,
		UserID:     identity.UserID,
		Plan:       identity.Plan,
		Mode:       mode,
		PersonaID:  req.PersonaID,
		ScenarioID: req.ScenarioID,
		Locale:     locale,
		Utterance:  req.Utterance,
		Hour:       now.Hour(),
		Now:        now,
	})
	if err != nil {
		h.log.Error("turn failed before generation", "user_id", identity.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, TurnResponse{Status: "failed", Error: "try again"})
		return
	}

	writeTurnResult(w, result)
}

// ActionRequest triggers one scenario action.
type ActionRequest struct {
	PersonaID  string `json:"persona_id"`
	ScenarioID string `json:"scenario_id"`
	ActionID   uint   `json:"action_id"`
	Locale     string `json:"locale,omitempty"`
}

// Action handles POST /api/v1/chat/action.
func (h *Handlers) Action(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		unauthorized(w, "missing identity")
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "invalid request body"})
		return
	}
	if req.ScenarioID == "" || req.ActionID == 0 {
		writeJSON(w, http.StatusBadRequest, TurnResponse{Error: "scenario_id and action_id are required"})
		return
	}

	result, err := h.orchestrator.TriggerAction(r.Context(), engine.ActionInput{
		UserID:     identity.UserID,
		Plan:       identity.Plan,
		PersonaID:  req.PersonaID,
		ScenarioID: req.ScenarioID,
		ActionID:   req.ActionID,
		Locale:     req.Locale,
	})
	if err != nil {
		h.log.Error("action failed", "user_id", identity.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, TurnResponse{Status: "failed", Error: "try again"})
		return
	}

	writeTurnResult(w, result)
}

// History handles GET /api/v1/chat/history.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		unauthorized(w, "missing identity")
		return
	}

	mode := r.URL.Query().Get("mode")
	personaID := r.URL.Query().Get("persona_id")
	scenarioID := r.URL.Query().Get("scenario_id")

	var convID string
	if mode == string(models.ModeScenario) {
		convID = fmt.Sprintf("scenario:%s:%s", identity.UserID, scenarioID)
	} else {
		convID = fmt.Sprintf("dm:%s:%s", identity.UserID, personaID)
	}

	msgs, err := h.messages.Recent(r.Context(), convID, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "try again"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// GetPersona handles GET /api/v1/personas/{id}.
func (h *Handlers) GetPersona(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.catalog.Persona(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "persona not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetScenario handles GET /api/v1/scenarios/{id}.
func (h *Handlers) GetScenario(w http.ResponseWriter, r *http.Request, id string) {
	sc, err := h.catalog.Scenario(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scenario not found"})
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// Events handles GET /api/v1/chat/events: upgrades to WebSocket and streams
// turn events for the authenticated user.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		unauthorized(w, "missing identity")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:     generateClientID(),
		UserID: identity.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    h.hub,
	}
	h.hub.register <- client

	go client.readPump()
}

func writeTurnResult(w http.ResponseWriter, result *engine.TurnResult) {
	resp := TurnResponse{
		Status:         string(result.Status),
		Reply:          result.Reply,
		Supplementary:  result.Supplementary,
		Transitioned:   result.Transitioned,
		PhaseOrdinal:   result.PhaseOrdinal,
		Affinity:       result.Affinity,
		ActiveMediaRef: result.ActiveMediaRef,
	}
	if result.Photo != nil {
		resp.Photo = &PhotoAttachment{Ref: result.Photo.Ref, Blurred: result.PhotoBlurred}
	}
	if result.Limit != nil {
		resp.LimitReached = &LimitReached{Kind: string(result.Limit.Kind), Plan: string(result.Limit.Plan)}
	}

	writeJSON(w, statusCode(result.Status), resp)
}

func statusCode(s engine.TurnStatus) int {
	switch s {
	case engine.TurnOK, engine.TurnDenied, engine.TurnDuplicate:
		// Quota denials are policy outcomes, not transport errors; the
		// client renders an upgrade prompt from limit_reached.
		return http.StatusOK
	case engine.TurnUpgradeRequired, engine.TurnAffinityLocked:
		return http.StatusForbidden
	case engine.TurnBusy:
		return http.StatusConflict
	case engine.TurnUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
