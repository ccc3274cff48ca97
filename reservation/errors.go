package reservation

import (
	"encoding/json"
	"errors"
	"net/http"

	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

// StatusClientClosedRequest é o 499 do nginx: o cliente desistiu antes da resposta.
const StatusClientClosedRequest = 499

// StatusFor traduz um Reason para o status HTTP.
func StatusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonNone:
		return http.StatusOK
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonNotOpen, domain.ReasonFull, domain.ReasonNotReserved,
		domain.ReasonInvalidTransition, domain.ReasonCapacityTooLow, domain.ReasonAlreadyExists:
		return http.StatusConflict
	case domain.ReasonContention, domain.ReasonUnavailable:
		return http.StatusServiceUnavailable
	case domain.ReasonInvalid:
		return http.StatusBadRequest
	case domain.ReasonAbandoned:
		return StatusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reason := domain.ReasonOf(err)
	if errors.Is(err, errBadRequest) {
		reason = domain.ReasonInvalid
	}
	status := StatusFor(reason)

	if reason == domain.ReasonAbandoned {
		// ninguém vai ler a resposta; não é falha do servidor
		h.log().Debug("client closed request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		writeJSON(w, status, ResultResponse{OK: false, Reason: reason})
		return
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		// não vaza detalhe de infraestrutura para o cliente
		msg = http.StatusText(status)
		if reason == domain.ReasonContention {
			msg = "too much contention, retry later"
		}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, ResultResponse{OK: false, Reason: reason, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
