package repository

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// DeliveryEventRepositoryInterface deduplicates provider delivery
// callbacks: one row per (dispatch record, kind), so a redelivered
// callback never double-counts.
type DeliveryEventRepositoryInterface interface {
	// RecordOnce inserts the event and bumps the owning campaign's
	// counter in one transaction. The bool reports whether the event
	// was new; redeliveries return false and touch nothing.
	RecordOnce(dispatchRecordID int, kind model.EventKind, campaignID int) (bool, error)
}

type DeliveryEventRepository struct {
	DB *sql.DB
}

// RecordOnce runs the dedup insert and the counter increment in a single
// transaction so a crash between them cannot strand a counted event.
func (r *DeliveryEventRepository) RecordOnce(dispatchRecordID int, kind model.EventKind, campaignID int) (bool, error) {
	col, ok := counterColumns[string(kind)]
	if !ok {
		return false, fmt.Errorf("unknown delivery event kind %q", kind)
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return false, errors.Wrap(err, "begin delivery event")
	}
	defer tx.Rollback()

	var id int
	err = tx.QueryRow(`
        INSERT INTO delivery_events (dispatch_record_id, kind, received_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (dispatch_record_id, kind) DO NOTHING
        RETURNING id
    `, dispatchRecordID, kind).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "insert delivery event")
	}

	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at=NOW() WHERE id=$1`, col, col)
	if _, err := tx.Exec(query, campaignID); err != nil {
		return false, errors.Wrapf(err, "increment %s counter", kind)
	}
	return true, errors.Wrap(tx.Commit(), "record delivery event")
}

var _ DeliveryEventRepositoryInterface = (*DeliveryEventRepository)(nil)
