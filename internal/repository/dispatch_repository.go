package repository

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

type DispatchRepositoryInterface interface {
	// Admit is the dispatch deduplicator: an atomic insert-if-absent on
	// (campaign_id, lead_id, occurrence). granted is false when the record
	// already exists, making event redelivery a no-op.
	Admit(rec *model.DispatchRecord) (granted bool, err error)

	GetByID(id int) (*model.DispatchRecord, error)
	GetByKey(campaignID, leadID int, occurrence string) (*model.DispatchRecord, error)
	GetByProviderMessageID(pmid string) (*model.DispatchRecord, error)

	ListDue(now time.Time, limit int) ([]*model.DispatchRecord, error)
	ListByCampaign(campaignID, offset, limit int) ([]*model.DispatchRecord, int, error)
	StatusCounts(campaignID int) (map[string]int, error)

	// ClaimAttempt takes ownership of the record's next send attempt with
	// a compare-and-set on attempt_count. Only the claimer proceeds to the
	// provider call, so concurrent workers (in-process or a separate
	// dispatch worker) never double-send one record.
	ClaimAttempt(id, expectedAttempt int) (bool, error)

	MarkSent(id int, providerMessageID, content string) error
	MarkFailed(id int, lastError string) error
	MarkSkipped(id int, status model.DispatchStatus) error
	MarkCreditReserved(id int) error
	// Reschedule pushes a pending record's due time forward for a retry.
	Reschedule(id int, dueAt time.Time, lastError string) error
}

type DispatchRepository struct {
	DB *sql.DB
}

const dispatchColumns = `id, campaign_id, lead_id, occurrence, due_at, status,
	rendered_content, provider_message_id, credit_reserved, attempt_count, last_error,
	created_at, updated_at`

func (r *DispatchRepository) Admit(rec *model.DispatchRecord) (bool, error) {
	if rec.Status == "" {
		rec.Status = model.DispatchPending
	}
	query := `
        INSERT INTO dispatch_records
            (campaign_id, lead_id, occurrence, due_at, status, credit_reserved, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        ON CONFLICT (campaign_id, lead_id, occurrence) DO NOTHING
        RETURNING id, created_at, updated_at
    `
	err := r.DB.QueryRow(query,
		rec.CampaignID, rec.LeadID, rec.Occurrence, rec.DueAt, rec.Status, rec.CreditReserved,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		// conflict: another delivery of the same event won the insert
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "admit dispatch record")
	}
	return true, nil
}

func (r *DispatchRepository) GetByID(id int) (*model.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatch_records WHERE id=$1`
	return r.scanOne(r.DB.QueryRow(query, id))
}

func (r *DispatchRepository) GetByKey(campaignID, leadID int, occurrence string) (*model.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + `
        FROM dispatch_records
        WHERE campaign_id=$1 AND lead_id=$2 AND occurrence=$3`
	return r.scanOne(r.DB.QueryRow(query, campaignID, leadID, occurrence))
}

func (r *DispatchRepository) GetByProviderMessageID(pmid string) (*model.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatch_records WHERE provider_message_id=$1`
	return r.scanOne(r.DB.QueryRow(query, pmid))
}

// ListDue returns pending records whose due time has arrived, oldest
// first. The sweeper re-enqueues them; restarts lose nothing because the
// due time is persisted, never held in an in-process timer.
func (r *DispatchRepository) ListDue(now time.Time, limit int) ([]*model.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + `
        FROM dispatch_records
        WHERE status=$1 AND due_at <= $2
        ORDER BY due_at ASC
        LIMIT $3`
	rows, err := r.DB.Query(query, model.DispatchPending, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list due dispatch records")
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *DispatchRepository) ListByCampaign(campaignID, offset, limit int) ([]*model.DispatchRecord, int, error) {
	query := `SELECT ` + dispatchColumns + `
        FROM dispatch_records
        WHERE campaign_id=$1
        ORDER BY id DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.DB.Query(query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list dispatch records")
	}
	defer rows.Close()

	records, err := r.scanAll(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.DB.QueryRow(`SELECT COUNT(*) FROM dispatch_records WHERE campaign_id=$1`, campaignID).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count dispatch records")
	}
	return records, total, nil
}

func (r *DispatchRepository) StatusCounts(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM dispatch_records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, errors.Wrap(err, "dispatch status counts")
	}
	defer rows.Close()

	stats := map[string]int{
		string(model.DispatchPending):            0,
		string(model.DispatchSent):               0,
		string(model.DispatchFailed):             0,
		string(model.DispatchSkippedNoCredit):    0,
		string(model.DispatchSkippedUnqualified): 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *DispatchRepository) ClaimAttempt(id, expectedAttempt int) (bool, error) {
	res, err := r.DB.Exec(`
        UPDATE dispatch_records
        SET attempt_count = attempt_count + 1, updated_at = NOW()
        WHERE id = $1 AND status = $2 AND attempt_count = $3
    `, id, model.DispatchPending, expectedAttempt)
	if err != nil {
		return false, errors.Wrap(err, "claim dispatch attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "claim dispatch attempt")
	}
	return n == 1, nil
}

// Terminal transitions guard on status='pending' so a record can never
// leave a terminal state, even under concurrent workers.

func (r *DispatchRepository) MarkSent(id int, providerMessageID, content string) error {
	query := `UPDATE dispatch_records
        SET status=$1, provider_message_id=$2, rendered_content=$3, last_error='', updated_at=NOW()
        WHERE id=$4 AND status=$5`
	_, err := r.DB.Exec(query, model.DispatchSent, providerMessageID, content, id, model.DispatchPending)
	return errors.Wrap(err, "mark dispatch sent")
}

func (r *DispatchRepository) MarkFailed(id int, lastError string) error {
	query := `UPDATE dispatch_records
        SET status=$1, last_error=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4`
	_, err := r.DB.Exec(query, model.DispatchFailed, lastError, id, model.DispatchPending)
	return errors.Wrap(err, "mark dispatch failed")
}

func (r *DispatchRepository) MarkSkipped(id int, status model.DispatchStatus) error {
	query := `UPDATE dispatch_records
        SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3`
	_, err := r.DB.Exec(query, status, id, model.DispatchPending)
	return errors.Wrap(err, "mark dispatch skipped")
}

func (r *DispatchRepository) MarkCreditReserved(id int) error {
	query := `UPDATE dispatch_records
        SET credit_reserved=TRUE, updated_at=NOW()
        WHERE id=$1 AND status=$2`
	_, err := r.DB.Exec(query, id, model.DispatchPending)
	return errors.Wrap(err, "mark credit reserved")
}

func (r *DispatchRepository) Reschedule(id int, dueAt time.Time, lastError string) error {
	query := `UPDATE dispatch_records
        SET due_at=$1, last_error=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4`
	_, err := r.DB.Exec(query, dueAt, lastError, id, model.DispatchPending)
	return errors.Wrap(err, "reschedule dispatch")
}

func (r *DispatchRepository) scanOne(row *sql.Row) (*model.DispatchRecord, error) {
	var rec model.DispatchRecord
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.LeadID, &rec.Occurrence, &rec.DueAt, &rec.Status,
		&rec.RenderedContent, &rec.ProviderMessageID, &rec.CreditReserved,
		&rec.AttemptCount, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scan dispatch record")
	}
	return &rec, nil
}

func (r *DispatchRepository) scanAll(rows *sql.Rows) ([]*model.DispatchRecord, error) {
	records := []*model.DispatchRecord{}
	for rows.Next() {
		var rec model.DispatchRecord
		err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.LeadID, &rec.Occurrence, &rec.DueAt, &rec.Status,
			&rec.RenderedContent, &rec.ProviderMessageID, &rec.CreditReserved,
			&rec.AttemptCount, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan dispatch record")
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

var _ DispatchRepositoryInterface = (*DispatchRepository)(nil)
