// Package credit is the admission-control ledger: every send consumes
// one per-user, per-channel credit, reserved atomically before dispatch.
package credit

import (
	"log"

	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/repository"
)

type Ledger struct {
	Repo repository.CreditRepositoryInterface
}

func NewLedger(repo repository.CreditRepositoryInterface) *Ledger {
	return &Ledger{Repo: repo}
}

// TryReserve admits count sends as one all-or-nothing unit. Bulk
// campaigns pass their full recipient count so a run never partially
// sends due to credit exhaustion mid-way.
func (l *Ledger) TryReserve(userID int, channel model.Channel, count int) (bool, error) {
	if count <= 0 {
		return true, nil
	}
	ok, err := l.Repo.TryReserve(userID, channel, count)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("credit reservation denied: user=%d channel=%s count=%d", userID, channel, count)
	}
	return ok, nil
}

// Refund compensates a reservation. Callers only refund when the
// provider synchronously rejected before accepting the message; refunding
// after acceptance would double-spend on the retry.
func (l *Ledger) Refund(userID int, channel model.Channel, count int) error {
	if count <= 0 {
		return nil
	}
	return l.Repo.Refund(userID, channel, count)
}

func (l *Ledger) Balance(userID int, channel model.Channel) (int, error) {
	return l.Repo.Balance(userID, channel)
}
