// Package application contém os casos de uso do serviço de reservas.
//
// Depende apenas do pacote domain (e de zap para log), não conhece net/http nem o backend
// concreto do Store.
//
//   - Mutator: read-modify-write isolado com retry limitado em ErrConflict
//   - Service: Reserve/Release e operações do dono (Create/Open/Close/SetCapacity)
package application
