package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/models"
	"go.uber.org/zap"
)

// ErrForbidden is returned by a Source when the log provider denies access.
// The reconstructor treats it as non-retryable and falls back to cache.
var ErrForbidden = errors.New("history: access denied by log source")

// Source reads the public transaction log for an identity.
type Source interface {
	// ListSignatures returns up to limit transaction references touching the
	// identity, newest first.
	ListSignatures(ctx context.Context, identity string, limit int) ([]models.SignatureInfo, error)
	// GetTransactions resolves signatures to full transactions with their
	// encoded event log lines.
	GetTransactions(ctx context.Context, signatures []string) ([]models.Transaction, error)
}

type Options struct {
	Window     int           // signatures scanned per reconstruction
	BatchSize  int           // signatures resolved per source call
	BatchDelay time.Duration // pause between batches
	RetryDelay time.Duration // pause before the single batch retry
	Freshness  time.Duration // cache age below which no scan runs
	MaxRecords int           // records kept per identity
}

func DefaultOptions() Options {
	return Options{
		Window:     30,
		BatchSize:  3,
		BatchDelay: 500 * time.Millisecond,
		RetryDelay: 2 * time.Second,
		Freshness:  5 * time.Minute,
		MaxRecords: 50,
	}
}

// Reconstructor rebuilds settlement history for an identity by replaying
// event log lines from recent transactions. Only terminal outcomes become
// records; everything else observed along the way just fills in fields.
type Reconstructor struct {
	source Source
	cache  CacheStore
	log    *zap.Logger
	opts   Options

	mu       sync.Mutex
	inflight map[string]struct{}

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewReconstructor(source Source, cache CacheStore, opts Options, log *zap.Logger) *Reconstructor {
	return &Reconstructor{
		source:   source,
		cache:    cache,
		log:      log,
		opts:     opts,
		inflight: make(map[string]struct{}),
		nowFn:    time.Now,
		sleepFn:  sleepCtx,
	}
}

// SetNowFunc and SetSleepFunc override time sources in tests.
func (r *Reconstructor) SetNowFunc(fn func() time.Time) { r.nowFn = fn }
func (r *Reconstructor) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFn = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// partial accumulates event fields for one escrow address during a scan.
type partial struct {
	client      models.Identity
	freelancer  models.Identity
	amount      uint64
	createdAt   time.Time
	completedAt time.Time
	status      string
	signature   string
	seeded      bool
	terminal    bool
}

// Fetch returns the identity's settlement history, scanning the transaction
// log unless a fresh cached copy exists and force is false. Scan and cache
// failures are absorbed: the caller gets the best available data, never an
// error page, so the only returned error is context cancellation.
func (r *Reconstructor) Fetch(ctx context.Context, identity string, force bool) ([]models.HistoricalRecord, error) {
	cached, err := r.cache.Load(ctx, identity)
	if err != nil {
		r.log.Warn("history cache load failed", zap.String("identity", identity), zap.Error(err))
		cached = nil
	}

	if !force && cached != nil && r.nowFn().Sub(cached.LastFetch) < r.opts.Freshness {
		return cached.History, nil
	}

	// One reconstruction per identity at a time; concurrent callers get the
	// cached snapshot.
	r.mu.Lock()
	if _, busy := r.inflight[identity]; busy {
		r.mu.Unlock()
		return cachedHistory(cached), nil
	}
	r.inflight[identity] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, identity)
		r.mu.Unlock()
	}()

	sigs, err := r.source.ListSignatures(ctx, identity, r.opts.Window)
	if err != nil {
		if !errors.Is(err, ErrForbidden) {
			r.log.Warn("signature listing failed, serving cache",
				zap.String("identity", identity), zap.Error(err))
		}
		return cachedHistory(cached), nil
	}
	if len(sigs) == 0 {
		return cachedHistory(cached), nil
	}

	partials, err := r.scan(ctx, identity, sigs)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return cachedHistory(cached), nil
		}
		return cachedHistory(cached), err
	}

	onledger := finalize(partials)
	merged := merge(onledger, cachedHistory(cached), r.opts.MaxRecords)

	data := &CacheData{
		History:       merged,
		LastFetch:     r.nowFn(),
		LastSignature: sigs[0].Signature,
	}
	if err := r.cache.Save(ctx, identity, data); err != nil {
		r.log.Warn("history cache save failed", zap.String("identity", identity), zap.Error(err))
	}
	return merged, nil
}

// scan resolves signatures in batches and replays their event lines into
// per-address partials. Transient batch failures get one retry and are then
// skipped; a forbidden response aborts the whole scan.
func (r *Reconstructor) scan(ctx context.Context, identity string, sigs []models.SignatureInfo) (map[models.Address]*partial, error) {
	partials := make(map[models.Address]*partial)

	for start := 0; start < len(sigs); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(sigs) {
			end = len(sigs)
		}
		batch := make([]string, 0, end-start)
		for _, s := range sigs[start:end] {
			batch = append(batch, s.Signature)
		}

		txs, err := r.source.GetTransactions(ctx, batch)
		if err != nil {
			if errors.Is(err, ErrForbidden) || ctx.Err() != nil {
				return nil, err
			}
			r.log.Warn("transaction batch failed, retrying",
				zap.String("identity", identity), zap.Strings("signatures", batch), zap.Error(err))
			if serr := r.sleepFn(ctx, r.opts.RetryDelay); serr != nil {
				return nil, serr
			}
			txs, err = r.source.GetTransactions(ctx, batch)
			if err != nil {
				if errors.Is(err, ErrForbidden) || ctx.Err() != nil {
					return nil, err
				}
				r.log.Warn("transaction batch failed twice, skipping",
					zap.String("identity", identity), zap.Strings("signatures", batch), zap.Error(err))
				txs = nil
			}
		}

		for _, tx := range txs {
			r.replay(identity, tx, partials)
		}

		if end < len(sigs) {
			if err := r.sleepFn(ctx, r.opts.BatchDelay); err != nil {
				return nil, err
			}
		}
	}
	return partials, nil
}

// replay applies one transaction's event lines to the accumulator. Lines that
// fail to decode are skipped: the log is shared and other programs write to it.
func (r *Reconstructor) replay(identity string, tx models.Transaction, partials map[models.Address]*partial) {
	for _, line := range tx.Logs {
		ev, err := events.Decode(line)
		if err != nil {
			continue
		}
		switch e := ev.(type) {
		case events.EscrowInitialized:
			if e.Client.String() != identity && e.Freelancer.String() != identity {
				continue
			}
			p := partials[e.EscrowKey]
			if p == nil {
				p = &partial{}
				partials[e.EscrowKey] = p
			}
			p.client = e.Client
			p.freelancer = e.Freelancer
			p.amount = e.Amount
			p.createdAt = tx.BlockTime
			p.seeded = true
		case events.PaymentWithdrawn:
			p := partials[e.EscrowKey]
			if p == nil {
				if e.Freelancer.String() != identity {
					continue
				}
				p = &partial{freelancer: e.Freelancer}
				partials[e.EscrowKey] = p
			}
			p.amount = e.Amount
			p.status = models.DealOutcomeComplete
			p.completedAt = tx.BlockTime
			p.signature = tx.Signature
			p.terminal = true
		case events.ClientRefunded:
			p := partials[e.EscrowKey]
			if p == nil {
				if e.Client.String() != identity {
					continue
				}
				p = &partial{client: e.Client}
				partials[e.EscrowKey] = p
			}
			p.amount = e.Amount
			p.status = models.DealOutcomeRefunded
			p.completedAt = tx.BlockTime
			p.signature = tx.Signature
			p.terminal = true
		}
	}
}

// finalize turns terminal partials into records. A terminal whose
// initialization fell outside the scan window still produces a record from
// what the terminal event alone carries.
func finalize(partials map[models.Address]*partial) []models.HistoricalRecord {
	var out []models.HistoricalRecord
	for addr, p := range partials {
		if !p.terminal {
			continue
		}
		createdAt := p.createdAt
		if !p.seeded {
			createdAt = p.completedAt
		}
		out = append(out, models.HistoricalRecord{
			Address:     addr,
			Client:      p.client,
			Freelancer:  p.freelancer,
			Amount:      p.amount,
			Status:      p.status,
			CreatedAt:   createdAt,
			CompletedAt: p.completedAt,
			TxSignature: p.signature,
			Source:      models.HistorySourceOnLedger,
		})
	}
	return out
}

// merge combines a fresh scan with cached records, preferring the scan for
// any address both contain, newest settlement first, capped at max.
func merge(onledger, cached []models.HistoricalRecord, max int) []models.HistoricalRecord {
	seen := make(map[models.Address]struct{}, len(onledger))
	out := make([]models.HistoricalRecord, 0, len(onledger)+len(cached))
	for _, rec := range onledger {
		seen[rec.Address] = struct{}{}
		out = append(out, rec)
	}
	for _, rec := range cached {
		if _, ok := seen[rec.Address]; ok {
			continue
		}
		rec.Source = models.HistorySourceCached
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func cachedHistory(cached *CacheData) []models.HistoricalRecord {
	if cached == nil {
		return nil
	}
	return cached.History
}

// SaveLocal records a settlement the caller just observed directly, so it
// shows up immediately instead of waiting for the next log scan to confirm it.
func (r *Reconstructor) SaveLocal(ctx context.Context, identity string, rec models.HistoricalRecord) error {
	cached, err := r.cache.Load(ctx, identity)
	if err != nil {
		return err
	}
	if cached == nil {
		cached = &CacheData{}
	}
	rec.Source = models.HistorySourceCached
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = r.nowFn()
	}

	replaced := false
	for i, existing := range cached.History {
		if existing.Address == rec.Address {
			cached.History[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		cached.History = append([]models.HistoricalRecord{rec}, cached.History...)
	}
	sort.SliceStable(cached.History, func(i, j int) bool {
		return cached.History[i].CompletedAt.After(cached.History[j].CompletedAt)
	})
	if len(cached.History) > r.opts.MaxRecords {
		cached.History = cached.History[:r.opts.MaxRecords]
	}
	return r.cache.Save(ctx, identity, cached)
}

// Clear drops the identity's cached history.
func (r *Reconstructor) Clear(ctx context.Context, identity string) error {
	return r.cache.Clear(ctx, identity)
}
