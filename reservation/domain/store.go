package domain

import "context"

// TxFunc recebe o valor atual e devolve o próximo valor.
// Se retornar erro, a tentativa é abortada sem escrita e o erro sobe intacto.
type TxFunc func(current Reservable) (Reservable, error)

// Store é o dono exclusivo do estado persistido.
//
// Transact executa UMA tentativa isolada de read-check-write para um id:
//   - lê o valor atual (ErrNotFound se ausente)
//   - chama fn
//   - grava o retorno somente se nenhum outro escritor confirmou no meio;
//     caso contrário retorna ErrConflict
//
// Ao gravar, o Store incrementa Version e avança UpdatedAt.
// Falhas de I/O devem envolver ErrStoreUnavailable. Nenhum retry interno.
type Store interface {
	Get(ctx context.Context, id string) (Reservable, error)
	Insert(ctx context.Context, r Reservable) error
	Transact(ctx context.Context, id string, fn TxFunc) (Reservable, error)
}
