// internal/service/tracker.go
package service

import (
	"fmt"

	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/repository"
)

// Tracker ingests provider delivery callbacks and rolls them up into the
// campaign counters shown on dashboards. Redelivered callbacks are
// deduplicated per (record, kind), so each one increments exactly one
// counter exactly once.
type Tracker struct {
	Dispatches repository.DispatchRepositoryInterface
	Events     repository.DeliveryEventRepositoryInterface
}

// RecordEvent applies one callback to the record's owning campaign. The
// dedup row and the counter land atomically, so a counted event is never
// lost between the two.
func (t *Tracker) RecordEvent(dispatchRecordID int, kind model.EventKind) error {
	if !model.ValidEventKind(kind) {
		return fmt.Errorf("unknown delivery event kind %q", kind)
	}

	rec, err := t.Dispatches.GetByID(dispatchRecordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return appErrors.NewDispatchNotFound(dispatchRecordID)
	}

	_, err = t.Events.RecordOnce(rec.ID, kind, rec.CampaignID)
	return err
}

// RecordByProviderMessageID resolves the provider's message id to our
// record, then applies the event. Providers call back with their own id,
// not ours.
func (t *Tracker) RecordByProviderMessageID(providerMessageID string, kind model.EventKind) error {
	rec, err := t.Dispatches.GetByProviderMessageID(providerMessageID)
	if err != nil {
		return err
	}
	if rec == nil {
		return appErrors.NewDispatchNotFoundByProviderMessage(providerMessageID)
	}
	return t.RecordEvent(rec.ID, kind)
}
