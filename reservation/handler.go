package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Service é o que os handlers precisam da camada application.
type Service interface {
	Reserve(ctx context.Context, id string) (domain.Result, error)
	Release(ctx context.Context, id string) (domain.Result, error)
	Get(ctx context.Context, id string) (domain.Reservable, error)
	Create(ctx context.Context, in application.CreateInput) (domain.Reservable, error)
	Open(ctx context.Context, id string) (domain.Reservable, error)
	Close(ctx context.Context, id string) (domain.Reservable, error)
	SetCapacity(ctx context.Context, id string, capacity int) (domain.Reservable, error)
}

var _ Service = application.Service{}

const maxBodyBytes = 1 << 20

type Handler struct {
	Svc      Service
	Validate *validator.Validate
	Log      *zap.Logger
	// Health é opcional; quando definido, /healthz responde 503 se retornar erro.
	Health func(ctx context.Context) error
}

func NewHandler(svc Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Validate: validator.New(), Log: log}
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// Routes registra as rotas no mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.health)

	mux.HandleFunc("POST /reservables", h.create)
	mux.HandleFunc("GET /reservables/{id}", h.get)
	mux.HandleFunc("PATCH /reservables/{id}", h.setCapacity)
	mux.HandleFunc("POST /reservables/{id}/reserve", h.reserve)
	mux.HandleFunc("POST /reservables/{id}/release", h.release)
	mux.HandleFunc("POST /reservables/{id}/open", h.open)
	mux.HandleFunc("POST /reservables/{id}/close", h.close)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			h.log().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := domain.ValidateID(id); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return id, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewReservableResponse(rec))
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, h.Svc.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.mutation(w, r, h.Svc.Release)
}

func (h *Handler) mutation(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (domain.Result, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := op(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.OK {
		status = StatusFor(res.Reason)
		if res.Reason == domain.ReasonContention {
			w.Header().Set("Retry-After", "1")
		}
	}
	writeJSON(w, status, NewResultResponse(res))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.Svc.Create(r.Context(), application.CreateInput{ID: req.ID, Capacity: req.Capacity})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/reservables/"+rec.ID)
	writeJSON(w, http.StatusCreated, NewReservableResponse(rec))
}

func (h *Handler) setCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req CapacityRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.reservable(w, r)(h.Svc.SetCapacity(r.Context(), id, req.Capacity))
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.pathID(w, r); ok {
		h.reservable(w, r)(h.Svc.Open(r.Context(), id))
	}
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.pathID(w, r); ok {
		h.reservable(w, r)(h.Svc.Close(r.Context(), id))
	}
}

func (h *Handler) reservable(w http.ResponseWriter, r *http.Request) func(domain.Reservable, error) {
	return func(rec domain.Reservable, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewReservableResponse(rec))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}

	v := h.Validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}
