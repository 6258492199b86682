// Package httpapi exposes the registry over REST. Addresses travel as hex
// strings; callers that only hold a seed can derive the address with the
// identity package before calling.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/signalmesh/registry/internal/app"
	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/domain/subscription"
	"github.com/signalmesh/registry/internal/app/identity"
	signalsvc "github.com/signalmesh/registry/internal/app/services/signals"
	"github.com/signalmesh/registry/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the registry REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/registry", h.initializeRegistry).Methods(http.MethodPost)
	r.HandleFunc("/registry", h.getRegistry).Methods(http.MethodGet)

	r.HandleFunc("/agents", h.registerAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents", h.leaderboard).Methods(http.MethodGet)
	r.HandleFunc("/agents/{agent}", h.getAgent).Methods(http.MethodGet)
	r.HandleFunc("/agents/{agent}/signals", h.listAgentSignals).Methods(http.MethodGet)

	r.HandleFunc("/signals", h.publishSignal).Methods(http.MethodPost)
	r.HandleFunc("/signals/{address}", h.getSignal).Methods(http.MethodGet)
	r.HandleFunc("/signals/{address}/resolve", h.resolveSignal).Methods(http.MethodPost)

	r.HandleFunc("/subscriptions", h.subscribe).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{subscriber}/{agent}", h.getSubscription).Methods(http.MethodGet)

	r.HandleFunc("/consumptions", h.consume).Methods(http.MethodPost)
	r.HandleFunc("/consumptions/{subscriber}/{signal}", h.getConsumption).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}

func (h *handler) initializeRegistry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Authority string `json:"authority"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	authority, err := identity.Parse(payload.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("authority: %w", err))
		return
	}

	rec, err := h.app.Registration.InitializeRegistry(r.Context(), authority)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) getRegistry(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Registration.GetRegistry(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Agent string `json:"agent"`
		Name  string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agentID, err := identity.Parse(payload.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}

	prof, err := h.app.Registration.RegisterAgent(r.Context(), agentID, payload.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, prof)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.app.Registration.Leaderboard(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := identity.Parse(mux.Vars(r)["agent"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}
	prof, err := h.app.Registration.GetAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) listAgentSignals(w http.ResponseWriter, r *http.Request) {
	agentID, err := identity.Parse(mux.Vars(r)["agent"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}
	records, err := h.app.Signals.ListByAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) publishSignal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Agent       string `json:"agent"`
		Asset       string `json:"asset"`
		Direction   string `json:"direction"`
		Confidence  uint8  `json:"confidence"`
		EntryPrice  uint64 `json:"entry_price"`
		TargetPrice uint64 `json:"target_price"`
		StopLoss    uint64 `json:"stop_loss"`
		TimeHorizon int64  `json:"time_horizon"`
		Reasoning   string `json:"reasoning"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agentID, err := identity.Parse(payload.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}
	direction, err := signal.ParseDirection(payload.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Signals.Publish(r.Context(), agentID, signalsvc.PublishInput{
		Asset:       payload.Asset,
		Direction:   direction,
		Confidence:  payload.Confidence,
		EntryPrice:  payload.EntryPrice,
		TargetPrice: payload.TargetPrice,
		StopLoss:    payload.StopLoss,
		TimeHorizon: payload.TimeHorizon,
		Reasoning:   payload.Reasoning,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) getSignal(w http.ResponseWriter, r *http.Request) {
	addr, err := identity.Parse(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address: %w", err))
		return
	}
	rec, err := h.app.Signals.Get(r.Context(), addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) resolveSignal(w http.ResponseWriter, r *http.Request) {
	addr, err := identity.Parse(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address: %w", err))
		return
	}
	var payload struct {
		Agent           string `json:"agent"`
		ResolutionPrice uint64 `json:"resolution_price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agentID, err := identity.Parse(payload.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}

	rec, prof, err := h.app.Signals.Resolve(r.Context(), addr, agentID, payload.ResolutionPrice)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Signal  signal.Record `json:"signal"`
		Profile agent.Profile `json:"profile"`
	}{
		Signal:  rec,
		Profile: prof,
	})
}

func (h *handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Subscriber string `json:"subscriber"`
		Agent      string `json:"agent"`
		Fee        uint64 `json:"fee"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	subscriber, err := identity.Parse(payload.Subscriber)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("subscriber: %w", err))
		return
	}
	agentID, err := identity.Parse(payload.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}

	rec, err := h.app.Subscriptions.Subscribe(r.Context(), subscriber, agentID, payload.Fee)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subscriber, err := identity.Parse(vars["subscriber"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("subscriber: %w", err))
		return
	}
	agentID, err := identity.Parse(vars["agent"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("agent: %w", err))
		return
	}
	rec, err := h.app.Subscriptions.GetSubscription(r.Context(), subscriber, agentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) consume(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Subscriber string `json:"subscriber"`
		Signal     string `json:"signal"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	subscriber, err := identity.Parse(payload.Subscriber)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("subscriber: %w", err))
		return
	}
	signalAddr, err := identity.Parse(payload.Signal)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("signal: %w", err))
		return
	}

	rec, err := h.app.Subscriptions.Consume(r.Context(), subscriber, signalAddr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) getConsumption(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subscriber, err := identity.Parse(vars["subscriber"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("subscriber: %w", err))
		return
	}
	signalAddr, err := identity.Parse(vars["signal"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("signal: %w", err))
		return
	}
	rec, err := h.app.Subscriptions.GetConsumption(r.Context(), subscriber, signalAddr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps service errors onto HTTP statuses. Validation failures are
// the caller's fault, settled or duplicated state is a conflict, and gate
// failures on someone else's records are forbidden.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, signal.ErrAlreadyResolved),
		errors.Is(err, signal.ErrTimeHorizonNotReached):
		return http.StatusConflict
	case errors.Is(err, signal.ErrUnauthorized),
		errors.Is(err, subscription.ErrSubscriptionInactive),
		errors.Is(err, subscription.ErrSubscriptionExpired):
		return http.StatusForbidden
	case errors.Is(err, agent.ErrNameTooLong),
		errors.Is(err, signal.ErrAssetTooLong),
		errors.Is(err, signal.ErrInvalidConfidence),
		errors.Is(err, signal.ErrReasoningTooLong),
		errors.Is(err, signal.ErrInvalidTimeHorizon),
		errors.Is(err, subscription.ErrInvalidFee):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
