// Package application contém os casos de uso do log de status de pagamento.
//
// Não conhece net/http: recebe IDs e status já validados e devolve Result.
package application

import (
	"context"
	"strconv"
	"time"

	"clinic-guards/middleware/stats"
	"clinic-guards/payment/domain"
)

// Service aplica transições no Log com o relógio do processo e registra cada
// decisão nas estatísticas. O log da recusa fica com o Log.
type Service struct {
	Log   domain.Log
	Stats stats.Recorder
	Now   func() time.Time
}

func (s Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CurrentStatus devolve o status mais recente do pagamento, se houver.
func (s Service) CurrentStatus(id domain.ID) (domain.Status, bool) {
	e, ok := s.Log.Current(id)
	return e.Status, ok
}

func (s Service) History(id domain.ID) []domain.Entry {
	return s.Log.History(id)
}

// SetStatus tenta mover o pagamento para target.
//
// Recusa por status terminal não é erro: Result.Applied fica false e
// Result.Status continua o status terminal.
func (s Service) SetStatus(ctx context.Context, id domain.ID, target domain.Status) domain.Result {
	res := s.Log.Transition(id, target, s.now())

	stats.Record(ctx, s.Stats, stats.Event{
		Guard:   stats.GuardPaymentStatus,
		Key:     strconv.FormatInt(int64(id), 10),
		Outcome: stats.Outcome(res.Outcome),
	})
	return res
}
