package domain

import (
	"context"
	"errors"
)

// Erros de entrada: retornados imediatamente, sem retry.
var (
	ErrInvalidID     = errors.New("invalid reservable id")
	ErrInvalidRecord = errors.New("invalid reservable")
	ErrAlreadyExists = errors.New("reservable already exists")
)

// Rejeições de política (resultados de negócio).
var (
	ErrNotFound              = errors.New("reservable not found")
	ErrNotOpen               = errors.New("reservable is not open")
	ErrFull                  = errors.New("reservable is full")
	ErrNotReserved           = errors.New("reservable has no reservations to release")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrCapacityBelowReserved = errors.New("capacity below reserved count")
)

var (
	// ErrConflict indica que outro escritor confirmou antes (uma tentativa do Store).
	ErrConflict = errors.New("concurrent modification")
	// ErrContention é o ErrConflict depois de esgotar as tentativas do Mutator.
	ErrContention = errors.New("contention: retries exhausted")
	// ErrStoreUnavailable envolve falhas de I/O do Store. Fatal para a chamada atual.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Reason é o motivo de rejeição exposto para clientes.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "NotFound"
	ReasonNotOpen           Reason = "NotOpen"
	ReasonFull              Reason = "Full"
	ReasonContention        Reason = "Contention"
	ReasonNotReserved       Reason = "NotReserved"
	ReasonInvalidTransition Reason = "InvalidTransition"
	ReasonCapacityTooLow    Reason = "CapacityBelowReserved"
	ReasonAlreadyExists     Reason = "AlreadyExists"
	ReasonInvalid           Reason = "Invalid"
	ReasonUnavailable       Reason = "Unavailable"

	// Motivos só do lado cliente (reconciler).
	ReasonNetworkError Reason = "NetworkError"
	ReasonAbandoned    Reason = "Abandoned"
)

var reasonByErr = []struct {
	err    error
	reason Reason
}{
	{ErrNotFound, ReasonNotFound},
	{ErrNotOpen, ReasonNotOpen},
	{ErrFull, ReasonFull},
	{ErrContention, ReasonContention},
	{ErrConflict, ReasonContention},
	{ErrNotReserved, ReasonNotReserved},
	{ErrInvalidTransition, ReasonInvalidTransition},
	{ErrCapacityBelowReserved, ReasonCapacityTooLow},
	{ErrAlreadyExists, ReasonAlreadyExists},
	{ErrInvalidID, ReasonInvalid},
	{ErrInvalidRecord, ReasonInvalid},
	{ErrStoreUnavailable, ReasonUnavailable},
	{context.Canceled, ReasonAbandoned},
}

// ReasonOf traduz um erro para o Reason correspondente.
// Erros desconhecidos viram ReasonUnavailable.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, m := range reasonByErr {
		if errors.Is(err, m.err) {
			return m.reason
		}
	}
	return ReasonUnavailable
}

// IsRejection informa se o erro é um resultado de negócio esperado (não uma falha).
func IsRejection(err error) bool {
	switch ReasonOf(err) {
	case ReasonNotFound, ReasonNotOpen, ReasonFull, ReasonContention, ReasonNotReserved,
		ReasonInvalidTransition, ReasonCapacityTooLow, ReasonAlreadyExists:
		return true
	}
	return false
}
