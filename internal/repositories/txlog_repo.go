package repositories

import (
	"context"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
)

// TxLogRepo is the append-only public transaction log. Rows are never updated
// or deleted; they are the only record that survives deal closure.
type TxLogRepo struct {
	db Querier
}

func NewTxLogRepo(db Querier) *TxLogRepo {
	return &TxLogRepo{db: db}
}

func (r *TxLogRepo) Append(ctx context.Context, tx *models.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transaction_log (signature, block_time, identities, logs)
		VALUES ($1, $2, $3, $4)
	`, tx.Signature, tx.BlockTime, tx.Identities, tx.Logs)
	return err
}

// ListSignatures returns up to limit transaction references touching the
// identity, newest first.
func (r *TxLogRepo) ListSignatures(ctx context.Context, identity string, limit int) ([]models.SignatureInfo, error) {
	rows, err := r.db.Query(ctx, `
		SELECT signature, block_time FROM transaction_log
		WHERE $1 = ANY(identities)
		ORDER BY block_time DESC, signature DESC
		LIMIT $2
	`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []models.SignatureInfo
	for rows.Next() {
		var s models.SignatureInfo
		if err := rows.Scan(&s.Signature, &s.BlockTime); err != nil {
			return nil, err
		}
		sigs = append(sigs, s)
	}
	return sigs, rows.Err()
}

func (r *TxLogRepo) GetTransactions(ctx context.Context, signatures []string) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT signature, block_time, identities, logs FROM transaction_log
		WHERE signature = ANY($1)
		ORDER BY block_time ASC
	`, signatures)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.Signature, &tx.BlockTime, &tx.Identities, &tx.Logs); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// RecentIdentities lists identities that appear in the log since the given
// time. The indexer uses it to decide whose history cache to refresh.
func (r *TxLogRepo) RecentIdentities(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT unnest(identities) FROM transaction_log
		WHERE block_time > $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
