package repositories

import (
	"context"
	"fmt"

	"github.com/freelance-escrow/backend/internal/escrow"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store backs the escrow engine with Postgres. Atomically wraps a transition
// in one pg transaction so mutation and event append commit or fail together.
type Store struct {
	pool     *pgxpool.Pool
	deals    *DealRepo
	accounts *AccountRepo
	txlog    *TxLogRepo
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		deals:    NewDealRepo(pool),
		accounts: NewAccountRepo(pool),
		txlog:    NewTxLogRepo(pool),
	}
}

func (s *Store) TxLog() *TxLogRepo { return s.txlog }

func (s *Store) Atomically(ctx context.Context, fn func(tx escrow.StoreTx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	st := &storeTx{
		deals:    NewDealRepo(pgtx),
		accounts: NewAccountRepo(pgtx),
		txlog:    NewTxLogRepo(pgtx),
	}
	if err := fn(st); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func (s *Store) GetDeal(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error) {
	return s.deals.Get(ctx, addr)
}

func (s *Store) ListDealsForIdentity(ctx context.Context, id models.Identity) ([]models.EscrowDeal, error) {
	return s.deals.ListForIdentity(ctx, id)
}

func (s *Store) Balance(ctx context.Context, id models.Identity) (uint64, error) {
	return s.accounts.Balance(ctx, id)
}

type storeTx struct {
	deals    *DealRepo
	accounts *AccountRepo
	txlog    *TxLogRepo
}

func (t *storeTx) GetDeal(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error) {
	return t.deals.GetForUpdate(ctx, addr)
}

func (t *storeTx) CreateDeal(ctx context.Context, deal *models.EscrowDeal) error {
	return t.deals.Create(ctx, deal)
}

func (t *storeTx) PutDeal(ctx context.Context, deal *models.EscrowDeal) error {
	return t.deals.Put(ctx, deal)
}

func (t *storeTx) DeleteDeal(ctx context.Context, addr models.Address) error {
	return t.deals.Delete(ctx, addr)
}

func (t *storeTx) Balance(ctx context.Context, id models.Identity) (uint64, error) {
	return t.accounts.Balance(ctx, id)
}

func (t *storeTx) Credit(ctx context.Context, id models.Identity, amount uint64) error {
	return t.accounts.Credit(ctx, id, amount)
}

func (t *storeTx) Debit(ctx context.Context, id models.Identity, amount uint64) error {
	return t.accounts.Debit(ctx, id, amount)
}

func (t *storeTx) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	return t.txlog.Append(ctx, tx)
}
