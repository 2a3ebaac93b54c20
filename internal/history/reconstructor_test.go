package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/models"
	"go.uber.org/zap"
)

type memCache struct {
	data map[string]*CacheData
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]*CacheData)}
}

func (c *memCache) Load(ctx context.Context, identity string) (*CacheData, error) {
	d, ok := c.data[identity]
	if !ok {
		return nil, nil
	}
	copied := *d
	copied.History = append([]models.HistoricalRecord(nil), d.History...)
	return &copied, nil
}

func (c *memCache) Save(ctx context.Context, identity string, data *CacheData) error {
	copied := *data
	copied.History = append([]models.HistoricalRecord(nil), data.History...)
	c.data[identity] = &copied
	return nil
}

func (c *memCache) Clear(ctx context.Context, identity string) error {
	delete(c.data, identity)
	return nil
}

// fakeSource serves a canned transaction log. getErrs are consumed one per
// GetTransactions call; a nil entry means success.
type fakeSource struct {
	sigs      []models.SignatureInfo
	txs       map[string]models.Transaction
	listErr   error
	getErrs   []error
	listCalls int
	getCalls  int
}

func (s *fakeSource) ListSignatures(ctx context.Context, identity string, limit int) ([]models.SignatureInfo, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.sigs) > limit {
		return s.sigs[:limit], nil
	}
	return s.sigs, nil
}

func (s *fakeSource) GetTransactions(ctx context.Context, signatures []string) ([]models.Transaction, error) {
	call := s.getCalls
	s.getCalls++
	if call < len(s.getErrs) && s.getErrs[call] != nil {
		return nil, s.getErrs[call]
	}
	var out []models.Transaction
	for _, sig := range signatures {
		if tx, ok := s.txs[sig]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

var (
	histClient     = models.Identity{1}
	histFreelancer = models.Identity{2}
	histVault      = models.Address{3}
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.BatchDelay = 0
	opts.RetryDelay = 0
	return opts
}

func newTestReconstructor(t *testing.T, source Source, cache CacheStore, opts Options) *Reconstructor {
	t.Helper()
	r := NewReconstructor(source, cache, opts, zap.NewNop())
	r.SetSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })
	return r
}

func mkTx(t *testing.T, sig string, blockTime time.Time, ev any) models.Transaction {
	t.Helper()
	line, err := events.Encode(ev)
	if err != nil {
		t.Fatalf("encode %T: %v", ev, err)
	}
	return models.Transaction{
		Signature:  sig,
		BlockTime:  blockTime,
		Identities: []string{histVault.String(), histClient.String(), histFreelancer.String()},
		Logs:       []string{line},
	}
}

// lifecycleSource builds a log of one fully settled deal: five transactions,
// newest first in the signature listing.
func lifecycleSource(t *testing.T, base time.Time) *fakeSource {
	t.Helper()
	evs := []any{
		events.EscrowInitialized{EscrowKey: histVault, Client: histClient, Freelancer: histFreelancer, Amount: 500},
		events.FundsDeposited{EscrowKey: histVault, Amount: 500},
		events.WorkSubmitted{EscrowKey: histVault, Freelancer: histFreelancer, WorkLink: "https://example.com/work"},
		events.SubmissionApproved{EscrowKey: histVault, Client: histClient},
		events.PaymentWithdrawn{EscrowKey: histVault, Freelancer: histFreelancer, Amount: 500},
	}
	src := &fakeSource{txs: make(map[string]models.Transaction)}
	for i, ev := range evs {
		sig := fmt.Sprintf("sig-%d", i+1)
		tx := mkTx(t, sig, base.Add(time.Duration(i)*time.Hour), ev)
		src.txs[sig] = tx
	}
	for i := len(evs); i > 0; i-- {
		src.sigs = append(src.sigs, models.SignatureInfo{
			Signature: fmt.Sprintf("sig-%d", i),
			BlockTime: base.Add(time.Duration(i-1) * time.Hour),
		})
	}
	return src
}

func TestReconstructSettledDeal(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	cache := newMemCache()
	r := newTestReconstructor(t, src, cache, testOptions())

	for _, identity := range []string{histClient.String(), histFreelancer.String()} {
		records, err := r.Fetch(ctx, identity, true)
		if err != nil {
			t.Fatalf("fetch %s: %v", identity, err)
		}
		if len(records) != 1 {
			t.Fatalf("records for %s = %d, want 1", identity, len(records))
		}
		rec := records[0]
		if rec.Address != histVault || rec.Client != histClient || rec.Freelancer != histFreelancer {
			t.Errorf("parties = %+v", rec)
		}
		if rec.Status != models.DealOutcomeComplete {
			t.Errorf("status = %q, want complete", rec.Status)
		}
		if rec.Amount != 500 {
			t.Errorf("amount = %d, want 500", rec.Amount)
		}
		if !rec.CreatedAt.Equal(base) {
			t.Errorf("createdAt = %v, want %v", rec.CreatedAt, base)
		}
		if !rec.CompletedAt.Equal(base.Add(4 * time.Hour)) {
			t.Errorf("completedAt = %v", rec.CompletedAt)
		}
		if rec.TxSignature != "sig-5" {
			t.Errorf("signature = %q, want sig-5", rec.TxSignature)
		}
		if rec.Source != models.HistorySourceOnLedger {
			t.Errorf("source = %q, want onledger", rec.Source)
		}
	}

	// Scan result is cached with the newest signature as the cursor.
	cached := cache.data[histClient.String()]
	if cached == nil {
		t.Fatal("nothing cached")
	}
	if cached.LastSignature != "sig-5" {
		t.Errorf("lastSignature = %q, want sig-5", cached.LastSignature)
	}
	if cached.LastFetch.IsZero() {
		t.Error("lastFetch not recorded")
	}
}

func TestOpenDealProducesNoRecord(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	src := &fakeSource{txs: make(map[string]models.Transaction)}
	tx := mkTx(t, "sig-1", base, events.EscrowInitialized{EscrowKey: histVault, Client: histClient, Freelancer: histFreelancer, Amount: 100})
	src.txs["sig-1"] = tx
	src.sigs = []models.SignatureInfo{{Signature: "sig-1", BlockTime: base}}

	r := newTestReconstructor(t, src, newMemCache(), testOptions())
	records, err := r.Fetch(ctx, histClient.String(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0: only terminal events settle", len(records))
	}
}

func TestFreshCacheSkipsScan(t *testing.T) {
	ctx := context.Background()
	identity := histClient.String()
	src := lifecycleSource(t, time.Now().Add(-time.Hour))
	cache := newMemCache()
	cache.data[identity] = &CacheData{
		History:   []models.HistoricalRecord{{Address: histVault, Status: models.DealOutcomeRefunded, Source: models.HistorySourceCached}},
		LastFetch: time.Now(),
	}

	r := newTestReconstructor(t, src, cache, testOptions())
	records, err := r.Fetch(ctx, identity, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if src.listCalls != 0 {
		t.Errorf("fresh cache still hit the source %d times", src.listCalls)
	}
	if len(records) != 1 || records[0].Status != models.DealOutcomeRefunded {
		t.Errorf("records = %+v, want the cached one", records)
	}

	// force bypasses freshness.
	if _, err := r.Fetch(ctx, identity, true); err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if src.listCalls != 1 {
		t.Errorf("forced fetch did not scan")
	}
}

func TestForbiddenServesCacheSilently(t *testing.T) {
	ctx := context.Background()
	identity := histClient.String()
	cache := newMemCache()
	cache.data[identity] = &CacheData{
		History:   []models.HistoricalRecord{{Address: histVault, Status: models.DealOutcomeComplete}},
		LastFetch: time.Now().Add(-time.Hour),
	}
	src := &fakeSource{listErr: ErrForbidden}

	r := newTestReconstructor(t, src, cache, testOptions())
	records, err := r.Fetch(ctx, identity, true)
	if err != nil {
		t.Fatalf("fetch returned error on forbidden: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want cached 1", len(records))
	}
}

// failSaveCache accepts reads but rejects every write.
type failSaveCache struct {
	*memCache
	saveErr error
}

func (c *failSaveCache) Save(ctx context.Context, identity string, data *CacheData) error {
	return c.saveErr
}

func TestCacheSaveFailureStillServesScan(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	cache := &failSaveCache{memCache: newMemCache(), saveErr: errors.New("connection refused")}
	r := newTestReconstructor(t, src, cache, testOptions())

	records, err := r.Fetch(ctx, histClient.String(), true)
	if err != nil {
		t.Fatalf("fetch with failing cache = %v, want nil", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Status != models.DealOutcomeComplete {
		t.Errorf("status = %q, want complete", records[0].Status)
	}
}

func TestEmptyWindowLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	identity := histClient.String()
	cache := newMemCache()
	stale := time.Now().Add(-time.Hour)
	cache.data[identity] = &CacheData{
		History:   []models.HistoricalRecord{{Address: histVault}},
		LastFetch: stale,
	}
	src := &fakeSource{}

	r := newTestReconstructor(t, src, cache, testOptions())
	records, err := r.Fetch(ctx, identity, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want cached 1", len(records))
	}
	if !cache.data[identity].LastFetch.Equal(stale) {
		t.Error("empty scan advanced lastFetch")
	}
}

func TestBatchRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	src.getErrs = []error{errors.New("rpc unavailable")} // first call fails, retry succeeds

	var sleeps []time.Duration
	opts := testOptions()
	opts.RetryDelay = 2 * time.Second
	r := NewReconstructor(src, newMemCache(), opts, zap.NewNop())
	r.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})

	records, err := r.Fetch(ctx, histClient.String(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if len(sleeps) == 0 || sleeps[0] != opts.RetryDelay {
		t.Errorf("retry delay not applied: sleeps = %v", sleeps)
	}
}

func TestFailingBatchSkipped(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	// First batch (sig-5, sig-4, sig-3, newest first) fails twice and is
	// dropped; the terminal event lives there, so only the seed survives.
	src.getErrs = []error{errors.New("down"), errors.New("still down")}

	r := newTestReconstructor(t, src, newMemCache(), testOptions())
	records, err := r.Fetch(ctx, histClient.String(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0 when the terminal batch is lost", len(records))
	}
	if src.getCalls != 3 {
		t.Errorf("getCalls = %d, want 3 (fail, retry fail, second batch ok)", src.getCalls)
	}
}

func TestTerminalWithoutSeed(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{txs: make(map[string]models.Transaction)}
	tx := mkTx(t, "sig-1", base, events.PaymentWithdrawn{EscrowKey: histVault, Freelancer: histFreelancer, Amount: 250})
	src.txs["sig-1"] = tx
	src.sigs = []models.SignatureInfo{{Signature: "sig-1", BlockTime: base}}

	r := newTestReconstructor(t, src, newMemCache(), testOptions())
	records, err := r.Fetch(ctx, histFreelancer.String(), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Amount != 250 || rec.Status != models.DealOutcomeComplete {
		t.Errorf("record = %+v", rec)
	}
	if !rec.CreatedAt.Equal(rec.CompletedAt) {
		t.Error("missing seed should fall back to completedAt for createdAt")
	}
	if !rec.Client.IsZero() {
		t.Error("client should be unknown without the initialization event")
	}
}

func TestMergePrefersScanAndKeepsCachedExtras(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	identity := histClient.String()

	other := models.Address{9}
	cache := newMemCache()
	cache.data[identity] = &CacheData{
		History: []models.HistoricalRecord{
			// Stale local copy of the deal the scan will confirm.
			{Address: histVault, Status: models.DealOutcomeComplete, Amount: 1, Source: models.HistorySourceCached, CompletedAt: base},
			// A settlement that fell out of the scan window.
			{Address: other, Status: models.DealOutcomeRefunded, Amount: 70, Source: models.HistorySourceCached, CompletedAt: base.Add(48 * time.Hour)},
		},
		LastFetch: time.Now().Add(-time.Hour),
	}

	r := newTestReconstructor(t, src, cache, testOptions())
	records, err := r.Fetch(ctx, identity, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Sorted by completedAt descending: the cached extra settled later.
	if records[0].Address != other || records[0].Source != models.HistorySourceCached {
		t.Errorf("first record = %+v, want the cached extra", records[0])
	}
	if records[1].Address != histVault || records[1].Source != models.HistorySourceOnLedger {
		t.Errorf("second record = %+v, want the onledger copy", records[1])
	}
	if records[1].Amount != 500 {
		t.Errorf("merged amount = %d, want the scanned 500", records[1].Amount)
	}
}

func TestRecordCap(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	src := lifecycleSource(t, base)
	identity := histClient.String()

	opts := testOptions()
	opts.MaxRecords = 2

	cache := newMemCache()
	var extras []models.HistoricalRecord
	for i := byte(0); i < 4; i++ {
		extras = append(extras, models.HistoricalRecord{
			Address:     models.Address{100 + i},
			Status:      models.DealOutcomeRefunded,
			Source:      models.HistorySourceCached,
			CompletedAt: base.Add(time.Duration(i+10) * time.Hour),
		})
	}
	cache.data[identity] = &CacheData{History: extras, LastFetch: time.Now().Add(-time.Hour)}

	r := newTestReconstructor(t, src, cache, opts)
	records, err := r.Fetch(ctx, identity, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want cap 2", len(records))
	}
	if !records[0].CompletedAt.After(records[1].CompletedAt) {
		t.Error("records not sorted newest first")
	}
}

func TestSaveLocal(t *testing.T) {
	ctx := context.Background()
	identity := histClient.String()
	cache := newMemCache()
	r := newTestReconstructor(t, &fakeSource{}, cache, testOptions())

	rec := models.HistoricalRecord{
		Address:     histVault,
		Client:      histClient,
		Freelancer:  histFreelancer,
		Amount:      500,
		Status:      models.DealOutcomeComplete,
		TxSignature: "sig-local",
	}
	if err := r.SaveLocal(ctx, identity, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	saved := cache.data[identity]
	if saved == nil || len(saved.History) != 1 {
		t.Fatalf("saved = %+v", saved)
	}
	got := saved.History[0]
	if got.Source != models.HistorySourceCached {
		t.Errorf("source = %q, want cached", got.Source)
	}
	if got.CompletedAt.IsZero() {
		t.Error("completedAt not defaulted")
	}

	// Saving the same address again replaces, not duplicates.
	rec.Amount = 600
	if err := r.SaveLocal(ctx, identity, rec); err != nil {
		t.Fatalf("second save: %v", err)
	}
	saved = cache.data[identity]
	if len(saved.History) != 1 {
		t.Fatalf("history length = %d after upsert, want 1", len(saved.History))
	}
	if saved.History[0].Amount != 600 {
		t.Errorf("amount = %d, want updated 600", saved.History[0].Amount)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	identity := histClient.String()
	cache := newMemCache()
	cache.data[identity] = &CacheData{History: []models.HistoricalRecord{{Address: histVault}}}

	r := newTestReconstructor(t, &fakeSource{}, cache, testOptions())
	if err := r.Clear(ctx, identity); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := cache.data[identity]; ok {
		t.Error("cache entry survived Clear")
	}
}
