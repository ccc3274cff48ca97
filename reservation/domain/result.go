package domain

// Result é o desfecho de Reserve/Release visto pelo cliente.
//
// OK=false com Reason preenchido representa uma rejeição de negócio
// (NotFound, NotOpen, Full, Contention, NotReserved), não uma falha.
type Result struct {
	OK            bool
	ReservedCount int
	Capacity      int
	Reason        Reason
}

func Accepted(r Reservable) Result {
	return Result{OK: true, ReservedCount: r.ReservedCount, Capacity: r.Capacity}
}

func Rejected(reason Reason) Result {
	return Result{OK: false, Reason: reason}
}
