package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// LeadRepositoryInterface reads lead snapshots. The quiz subsystem owns
// leads; Upsert exists only for the event adapter that persists each
// incoming funnel snapshot.
type LeadRepositoryInterface interface {
	GetByID(id int) (*model.Lead, error)
	ListByQuiz(quizID int) ([]*model.Lead, error)
	Upsert(l *model.Lead) error
}

type LeadRepository struct {
	DB *sql.DB
}

func (r *LeadRepository) GetByID(id int) (*model.Lead, error) {
	query := `
        SELECT id, quiz_id, phone, email, status, variables, last_activity_at
        FROM leads
        WHERE id = $1
    `
	row := r.DB.QueryRow(query, id)

	var l model.Lead
	var vars []byte
	if err := row.Scan(&l.ID, &l.QuizID, &l.Phone, &l.Email, &l.Status, &vars, &l.LastActivityAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, errors.Wrap(err, "get lead")
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &l.Variables); err != nil {
			return nil, errors.Wrap(err, "decode lead variables")
		}
	}
	return &l, nil
}

// ListByQuiz fetches all leads of a quiz, used to snapshot the audience
// of a scheduled campaign at its due time.
func (r *LeadRepository) ListByQuiz(quizID int) ([]*model.Lead, error) {
	query := `
        SELECT id, quiz_id, phone, email, status, variables, last_activity_at
        FROM leads
        WHERE quiz_id = $1
    `
	rows, err := r.DB.Query(query, quizID)
	if err != nil {
		return nil, errors.Wrap(err, "list leads by quiz")
	}
	defer rows.Close()

	leads := []*model.Lead{}
	for rows.Next() {
		var l model.Lead
		var vars []byte
		if err := rows.Scan(&l.ID, &l.QuizID, &l.Phone, &l.Email, &l.Status, &vars, &l.LastActivityAt); err != nil {
			return nil, errors.Wrap(err, "scan lead")
		}
		if len(vars) > 0 {
			if err := json.Unmarshal(vars, &l.Variables); err != nil {
				return nil, errors.Wrap(err, "decode lead variables")
			}
		}
		leads = append(leads, &l)
	}
	return leads, rows.Err()
}

// Upsert writes the lead snapshot carried by a funnel event. A terminal
// funnel status is never overwritten: the transition happens once per
// quiz attempt and is immutable afterwards.
func (r *LeadRepository) Upsert(l *model.Lead) error {
	if l.LastActivityAt.IsZero() {
		l.LastActivityAt = time.Now()
	}
	vars, err := json.Marshal(l.Variables)
	if err != nil {
		return errors.Wrap(err, "encode lead variables")
	}
	query := `
        INSERT INTO leads (id, quiz_id, phone, email, status, variables, last_activity_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE
        SET phone = EXCLUDED.phone,
            email = EXCLUDED.email,
            variables = EXCLUDED.variables,
            last_activity_at = EXCLUDED.last_activity_at,
            status = CASE
                WHEN leads.status IN ('completed', 'abandoned') THEN leads.status
                ELSE EXCLUDED.status
            END
    `
	_, err = r.DB.Exec(query, l.ID, l.QuizID, l.Phone, l.Email, l.Status, vars, l.LastActivityAt)
	return errors.Wrap(err, "upsert lead")
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
