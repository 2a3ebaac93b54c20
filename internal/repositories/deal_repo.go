package repositories

import (
	"context"
	"errors"

	"github.com/freelance-escrow/backend/internal/escrow"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so repositories work
// inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DealRepo struct {
	db Querier
}

func NewDealRepo(db Querier) *DealRepo {
	return &DealRepo{db: db}
}

const dealColumns = `address, client, freelancer, amount, status, work_link,
	       dispute_timeout_days, created_at, funded_at, submitted_at, approved_at, disputed_at`

func scanDeal(row pgx.Row) (*models.EscrowDeal, error) {
	var d models.EscrowDeal
	var address, client, freelancer string
	var amount int64
	err := row.Scan(&address, &client, &freelancer, &amount, &d.Status, &d.WorkLink,
		&d.DisputeTimeoutDays, &d.CreatedAt, &d.FundedAt, &d.SubmittedAt, &d.ApprovedAt, &d.DisputedAt)
	if err != nil {
		return nil, err
	}
	if d.Address, err = models.ParseIdentity(address); err != nil {
		return nil, err
	}
	if d.Client, err = models.ParseIdentity(client); err != nil {
		return nil, err
	}
	if d.Freelancer, err = models.ParseIdentity(freelancer); err != nil {
		return nil, err
	}
	d.Amount = uint64(amount)
	return &d, nil
}

func (r *DealRepo) Get(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error) {
	return r.get(ctx, addr, "")
}

// GetForUpdate locks the row for the rest of the transaction, so two
// concurrent transitions against the same deal serialize: the second one
// re-reads the committed status and fails its precondition.
func (r *DealRepo) GetForUpdate(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error) {
	return r.get(ctx, addr, "FOR UPDATE")
}

func (r *DealRepo) get(ctx context.Context, addr models.Address, locking string) (*models.EscrowDeal, bool, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+dealColumns+`
		FROM escrow_deals WHERE address = $1 `+locking,
		addr.String())
	deal, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return deal, true, nil
}

// Create inserts a fresh deal. FOR UPDATE cannot lock an absent row, so the
// unique index arbitrates concurrent initializations instead: the loser's
// insert hits the conflict arm, affects no rows, and fails.
func (r *DealRepo) Create(ctx context.Context, d *models.EscrowDeal) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO escrow_deals (address, client, freelancer, amount, status, work_link,
		                          dispute_timeout_days, created_at, funded_at, submitted_at, approved_at, disputed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address) DO NOTHING
	`, d.Address.String(), d.Client.String(), d.Freelancer.String(), int64(d.Amount), d.Status, d.WorkLink,
		d.DisputeTimeoutDays, d.CreatedAt, d.FundedAt, d.SubmittedAt, d.ApprovedAt, d.DisputedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrDealExists
	}
	return nil
}

func (r *DealRepo) Put(ctx context.Context, d *models.EscrowDeal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE escrow_deals
		SET status = $2, work_link = $3, funded_at = $4, submitted_at = $5, approved_at = $6, disputed_at = $7
		WHERE address = $1
	`, d.Address.String(), d.Status, d.WorkLink, d.FundedAt, d.SubmittedAt, d.ApprovedAt, d.DisputedAt)
	return err
}

func (r *DealRepo) Delete(ctx context.Context, addr models.Address) error {
	_, err := r.db.Exec(ctx, `DELETE FROM escrow_deals WHERE address = $1`, addr.String())
	return err
}

func (r *DealRepo) ListForIdentity(ctx context.Context, id models.Identity) ([]models.EscrowDeal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+dealColumns+`
		FROM escrow_deals
		WHERE client = $1 OR freelancer = $1
		ORDER BY created_at DESC
	`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.EscrowDeal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}
