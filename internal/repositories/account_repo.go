package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/freelance-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccountRepo holds ledger balances for party identities and deal vaults.
type AccountRepo struct {
	db Querier
}

func NewAccountRepo(db Querier) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Balance(ctx context.Context, id models.Identity) (uint64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE address = $1`, id.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

func (r *AccountRepo) Credit(ctx context.Context, id models.Identity, amount uint64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
	`, id.String(), int64(amount))
	return err
}

// Debit fails without mutating when the balance is insufficient; the guard in
// SQL keeps concurrent debits from overdrawing.
func (r *AccountRepo) Debit(ctx context.Context, id models.Identity, amount uint64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET balance = balance - $2
		WHERE address = $1 AND balance >= $2
	`, id.String(), int64(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: balance below %d", id, amount)
	}
	return nil
}
