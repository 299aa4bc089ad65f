// Package reqseq issues per-operation request tickets so that only the
// latest asynchronous result of an operation is applied.
package reqseq

import (
	"sync/atomic"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

type Ticket uint64

// Sequence tracks the latest ticket of one logical operation.
type Sequence struct {
	name string
	last atomic.Uint64
}

func New(name string) *Sequence {
	return &Sequence{name: name}
}

// Next starts a request; every earlier ticket becomes stale.
func (s *Sequence) Next() Ticket {
	return Ticket(s.last.Add(1))
}

// Invalidate makes all outstanding tickets stale without starting a request.
func (s *Sequence) Invalidate() {
	s.last.Add(1)
}

func (s *Sequence) Current(t Ticket) bool {
	return uint64(t) == s.last.Load()
}

// Accept is Current that also counts discarded results.
func (s *Sequence) Accept(t Ticket) bool {
	if s.Current(t) {
		return true
	}
	observability.IncStale(s.name)
	return false
}
