package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status controla se uma Reservable aceita reservas.
type Status string

const (
	StatusDraft  Status = "Draft"
	StatusOpen   Status = "Open"
	StatusClosed Status = "Closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed:
		return true
	}
	return false
}

// CanTransition informa se a mudança de status é permitida.
// Draft -> Open, Draft -> Closed, Open -> Closed. Closed é terminal.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusDraft:
		return to == StatusOpen || to == StatusClosed
	case StatusOpen:
		return to == StatusClosed
	}
	return false
}

// ParseStatus aceita o nome do status sem diferenciar maiúsculas.
func ParseStatus(v string) (Status, error) {
	for _, s := range []Status{StatusDraft, StatusOpen, StatusClosed} {
		if strings.EqualFold(strings.TrimSpace(v), string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", v)
}

// Reservable é a entidade sob controle de capacidade.
//
// Invariante: 0 <= ReservedCount <= Capacity e Capacity > 0.
// Version avança exatamente 1 a cada escrita confirmada no Store.
type Reservable struct {
	ID            string    `json:"id"`
	Capacity      int       `json:"capacity"`
	ReservedCount int       `json:"reservedCount"`
	Status        Status    `json:"status"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Available retorna quantas vagas ainda restam.
func (r Reservable) Available() int {
	if r.ReservedCount >= r.Capacity {
		return 0
	}
	return r.Capacity - r.ReservedCount
}

func (r Reservable) Full() bool { return r.ReservedCount >= r.Capacity }

// Validate verifica as invariantes do registro.
// Implementações de Store recusam gravar um valor inválido.
func (r Reservable) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, r.Status)
	}
	if r.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0, got %d", ErrInvalidRecord, r.Capacity)
	}
	if r.ReservedCount < 0 {
		return fmt.Errorf("%w: reservedCount must be >= 0, got %d", ErrInvalidRecord, r.ReservedCount)
	}
	if r.ReservedCount > r.Capacity {
		return fmt.Errorf("%w: reservedCount %d exceeds capacity %d", ErrInvalidRecord, r.ReservedCount, r.Capacity)
	}
	return nil
}

const maxIDLen = 128

// ValidateID rejeita ids vazios, longos demais ou com caracteres de controle/separadores.
func ValidateID(id string) error {
	if id == "" || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLen)
	}
	for _, c := range id {
		if c < 0x21 || c == 0x7f || c == '/' || c == ':' {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}
