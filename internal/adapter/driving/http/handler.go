package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Wyydra/parley/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// CallDeleter is implemented by stores that can drop a call.
type CallDeleter interface {
	Delete(ctx context.Context, id domain.CallID) error
}

// Observer receives per-request metrics. Optional.
type Observer interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

type Handler struct {
	Store   port.SignalingStore
	Hub     *ws.Hub
	Metrics Observer
}

func NewHandler(store port.SignalingStore, hub *ws.Hub, metrics Observer) *Handler {
	return &Handler{
		Store:   store,
		Hub:     hub,
		Metrics: metrics,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.observe)
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	r.Get("/healthz", h.Healthz)

	r.Route("/calls", func(r chi.Router) {
		r.Post("/", h.CreateCall)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCall)
			r.Patch("/", h.UpdateCall)
			r.Delete("/", h.DeleteCall)
			r.Get("/watch", h.WatchCall)
			r.Post("/candidates/{collection}", h.AddCandidate)
			r.Get("/candidates/{collection}/watch", h.WatchCandidates)
		})
	})

	return r
}

type createCallResponse struct {
	ID string `json:"id"`
}

type candidateDTO struct {
	Candidate string `json:"candidate"`
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	id, err := h.Store.CreateCall(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Str("call_id", id.String()).Msg("Call created")
	writeJSON(w, http.StatusCreated, createCallResponse{ID: id.String()})
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.GetCall(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) UpdateCall(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	var update domain.CallUpdate
	if err := decodeBody(r, &update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if update.Empty() {
		http.Error(w, "empty update", http.StatusBadRequest)
		return
	}
	if err := h.Store.UpdateCall(r.Context(), id, update); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	deleter, ok := h.Store.(CallDeleter)
	if !ok {
		http.Error(w, "delete not supported by this store", http.StatusNotImplemented)
		return
	}
	if err := deleter.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.CloseCall(id)
	}
	log.Info().Str("call_id", id.String()).Msg("Call deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	coll, ok := collection(w, r)
	if !ok {
		return
	}
	var dto candidateDTO
	if err := decodeBody(r, &dto); err != nil || dto.Candidate == "" {
		http.Error(w, "candidate is required", http.StatusBadRequest)
		return
	}
	if err := h.Store.AddCandidate(r.Context(), id, coll, domain.IceCandidate(dto.Candidate)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// observe records metrics under the matched route pattern, so ids do not
// explode label cardinality.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}

func callID(w http.ResponseWriter, r *http.Request) (domain.CallID, bool) {
	id, err := domain.ParseCallID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func collection(w http.ResponseWriter, r *http.Request) (domain.CandidateCollection, bool) {
	coll := domain.CandidateCollection(chi.URLParam(r, "collection"))
	if !coll.Valid() {
		http.Error(w, "unknown candidate collection", http.StatusBadRequest)
		return "", false
	}
	return coll, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrCallNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("Signaling request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
