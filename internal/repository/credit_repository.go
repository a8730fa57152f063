package repository

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// CreditRepositoryInterface is the durable balance store behind the
// ledger. TryReserve is the single atomic check-and-decrement shared by
// all workers; the balance can never go negative.
type CreditRepositoryInterface interface {
	TryReserve(userID int, channel model.Channel, count int) (bool, error)
	Refund(userID int, channel model.Channel, count int) error
	Balance(userID int, channel model.Channel) (int, error)
	TopUp(userID int, channel model.Channel, count int) error
}

type CreditRepository struct {
	DB *sql.DB
}

// TryReserve decrements the balance only when it covers count, in one
// conditional UPDATE. Zero rows affected means insufficient credit and
// no mutation.
func (r *CreditRepository) TryReserve(userID int, channel model.Channel, count int) (bool, error) {
	res, err := r.DB.Exec(`
        UPDATE credits
        SET balance = balance - $1, updated_at = NOW()
        WHERE user_id = $2 AND channel = $3 AND balance >= $1
    `, count, userID, channel)
	if err != nil {
		return false, errors.Wrap(err, "reserve credits")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reserve credits")
	}
	return n == 1, nil
}

// Refund compensates a reservation when the provider synchronously
// rejects a message before accepting it.
func (r *CreditRepository) Refund(userID int, channel model.Channel, count int) error {
	_, err := r.DB.Exec(`
        UPDATE credits
        SET balance = balance + $1, updated_at = NOW()
        WHERE user_id = $2 AND channel = $3
    `, count, userID, channel)
	return errors.Wrap(err, "refund credits")
}

func (r *CreditRepository) Balance(userID int, channel model.Channel) (int, error) {
	var balance int
	err := r.DB.QueryRow(
		`SELECT balance FROM credits WHERE user_id = $1 AND channel = $2`,
		userID, channel,
	).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, errors.Wrap(err, "credit balance")
	}
	return balance, nil
}

// TopUp belongs to the billing subsystem; the seeder uses it to create
// balances for local runs.
func (r *CreditRepository) TopUp(userID int, channel model.Channel, count int) error {
	_, err := r.DB.Exec(`
        INSERT INTO credits (user_id, channel, balance, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (user_id, channel) DO UPDATE
        SET balance = credits.balance + EXCLUDED.balance, updated_at = NOW()
    `, userID, channel, count)
	return errors.Wrap(err, "top up credits")
}

var _ CreditRepositoryInterface = (*CreditRepository)(nil)
