package reservation

import "reservation-gateway/reservation/domain"

// ReservableResponse é a forma pública de uma Reservable.
type ReservableResponse struct {
	ID            string        `json:"id"`
	Capacity      int           `json:"capacity"`
	ReservedCount int           `json:"reservedCount"`
	Status        domain.Status `json:"status"`
}

func NewReservableResponse(r domain.Reservable) ReservableResponse {
	return ReservableResponse{
		ID:            r.ID,
		Capacity:      r.Capacity,
		ReservedCount: r.ReservedCount,
		Status:        r.Status,
	}
}

// ResultResponse é o corpo de reserve/release:
// {ok:true, reservedCount, capacity} ou {ok:false, reason}.
type ResultResponse struct {
	OK            bool          `json:"ok"`
	ReservedCount *int          `json:"reservedCount,omitempty"`
	Capacity      *int          `json:"capacity,omitempty"`
	Reason        domain.Reason `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func NewResultResponse(res domain.Result) ResultResponse {
	if !res.OK {
		return ResultResponse{OK: false, Reason: res.Reason}
	}
	count, capacity := res.ReservedCount, res.Capacity
	return ResultResponse{OK: true, ReservedCount: &count, Capacity: &capacity}
}

// Result converte de volta para o tipo de domínio (usado pelo client).
func (r ResultResponse) Result() domain.Result {
	out := domain.Result{OK: r.OK, Reason: r.Reason}
	if r.ReservedCount != nil {
		out.ReservedCount = *r.ReservedCount
	}
	if r.Capacity != nil {
		out.Capacity = *r.Capacity
	}
	return out
}

type CreateRequest struct {
	ID       string `json:"id" validate:"omitempty,max=128"`
	Capacity int    `json:"capacity" validate:"required,gt=0"`
}

type CapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,gt=0"`
}
