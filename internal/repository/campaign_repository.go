package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(c *model.Campaign) error
	Update(c *model.Campaign) error
	UpdateStatus(campaignID int, status string) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error)

	// Orchestration queries
	ListActiveByQuiz(quizID int) ([]*model.Campaign, error)
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
	MarkMaterialized(campaignID int, at time.Time) error
	SoftDeactivate(campaignID int, at time.Time) error

	// Analytics counters
	IncrementCounter(campaignID int, counter string) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, user_id, name, channel, quiz_id, audience, filters, template,
	subject, media_ref, buckets, trigger_kind, delay_seconds, scheduled_at,
	status, deactivated_at, materialized_at,
	sent_count, delivered_count, opened_count, clicked_count, replied_count, bounced_count,
	created_at, updated_at`

// counterColumns whitelists counter names against SQL injection through
// the delivery-event kind.
var counterColumns = map[string]string{
	"sent":      "sent_count",
	"delivered": "delivered_count",
	"opened":    "opened_count",
	"clicked":   "clicked_count",
	"replied":   "replied_count",
	"bounced":   "bounced_count",
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	filters, buckets, err := marshalRules(c)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO campaigns
            (user_id, name, channel, quiz_id, audience, filters, template, subject,
             media_ref, buckets, trigger_kind, delay_seconds, scheduled_at, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        RETURNING id
    `
	err = r.DB.QueryRow(query,
		c.UserID, c.Name, c.Channel, c.QuizID, c.Audience, filters, c.Template, c.Subject,
		c.MediaRef, buckets, c.Trigger, c.DelaySeconds, c.ScheduledAt, c.Status, c.CreatedAt,
	).Scan(&c.ID)
	return errors.Wrap(err, "insert campaign")
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	filters, buckets, err := marshalRules(c)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET name=$1, audience=$2, filters=$3, template=$4, subject=$5, media_ref=$6,
            buckets=$7, trigger_kind=$8, delay_seconds=$9, scheduled_at=$10, status=$11,
            updated_at=NOW()
        WHERE id=$12
    `
	_, err = r.DB.Exec(query,
		c.Name, c.Audience, filters, c.Template, c.Subject, c.MediaRef,
		buckets, c.Trigger, c.DelaySeconds, c.ScheduledAt, c.Status, c.ID,
	)
	return errors.Wrap(err, "update campaign")
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return errors.Wrap(err, "update campaign status")
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE deactivated_at IS NULL`
	args := []interface{}{}
	argPos := 1

	if channel != "" {
		query += fmt.Sprintf(" AND channel=$%d", argPos)
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list campaigns")
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE deactivated_at IS NULL`
	argsCount := []interface{}{}
	argPosCount := 1
	if channel != "" {
		countQuery += fmt.Sprintf(" AND channel=$%d", argPosCount)
		argsCount = append(argsCount, channel)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count campaigns")
	}

	return campaigns, total, nil
}

// ====================== Orchestration queries ======================

func (r *CampaignRepository) ListActiveByQuiz(quizID int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE quiz_id=$1 AND status=$2 AND deactivated_at IS NULL`
	rows, err := r.DB.Query(query, quizID, model.StatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "list active campaigns")
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListDueScheduled returns active scheduled campaigns whose fixed time has
// arrived and whose audience snapshot was not materialized yet.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE trigger_kind=$1 AND status=$2 AND deactivated_at IS NULL
          AND scheduled_at IS NOT NULL AND scheduled_at <= $3
          AND materialized_at IS NULL`
	rows, err := r.DB.Query(query, model.TriggerScheduled, model.StatusActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "list due scheduled campaigns")
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) MarkMaterialized(campaignID int, at time.Time) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET materialized_at=$1, updated_at=NOW() WHERE id=$2`, at, campaignID)
	return errors.Wrap(err, "mark campaign materialized")
}

// SoftDeactivate hides the campaign from listings while keeping its
// counters queryable. Campaigns are never hard-deleted.
func (r *CampaignRepository) SoftDeactivate(campaignID int, at time.Time) error {
	_, err := r.DB.Exec(
		`UPDATE campaigns SET deactivated_at=$1, status=$2, updated_at=NOW() WHERE id=$3`,
		at, model.StatusCompleted, campaignID,
	)
	return errors.Wrap(err, "deactivate campaign")
}

// ====================== Counters ======================

func (r *CampaignRepository) IncrementCounter(campaignID int, counter string) error {
	col, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown counter %q", counter)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at=NOW() WHERE id=$1`, col, col)
	_, err := r.DB.Exec(query, campaignID)
	return errors.Wrapf(err, "increment %s counter", counter)
}

// ====================== Scan helpers ======================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var filters, buckets []byte
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Channel, &c.QuizID, &c.Audience, &filters, &c.Template,
		&c.Subject, &c.MediaRef, &buckets, &c.Trigger, &c.DelaySeconds, &c.ScheduledAt,
		&c.Status, &c.DeactivatedAt, &c.MaterializedAt,
		&c.Counters.Sent, &c.Counters.Delivered, &c.Counters.Opened,
		&c.Counters.Clicked, &c.Counters.Replied, &c.Counters.Bounced,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &c.Filters); err != nil {
			return nil, errors.Wrap(err, "decode campaign filters")
		}
	}
	if len(buckets) > 0 {
		if err := json.Unmarshal(buckets, &c.Buckets); err != nil {
			return nil, errors.Wrap(err, "decode campaign buckets")
		}
	}
	return &c, nil
}

func marshalRules(c *model.Campaign) ([]byte, []byte, error) {
	filters, err := json.Marshal(c.Filters)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode campaign filters")
	}
	buckets, err := json.Marshal(c.Buckets)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode campaign buckets")
	}
	return filters, buckets, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
