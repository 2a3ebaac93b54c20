package escrow

import (
	"context"
	"crypto/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btcsuite/btcutil/base58"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/models"
	"go.uber.org/zap"
)

const (
	maxWorkLinkChars = 200
	maxWorkLinkBytes = 600
)

// Store is the ledger state the engine mutates. Atomically runs fn inside one
// transaction: a transition either fully applies (state mutation + log append)
// or fully fails with no partial effect.
type Store interface {
	Atomically(ctx context.Context, fn func(tx StoreTx) error) error
	GetDeal(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error)
	ListDealsForIdentity(ctx context.Context, id models.Identity) ([]models.EscrowDeal, error)
	Balance(ctx context.Context, id models.Identity) (uint64, error)
}

// StoreTx is the transactional view of the store. GetDeal must lock the deal
// against concurrent transitions for the rest of the transaction; CreateDeal
// must fail with ErrDealExists when the record already exists, even when a
// concurrent transaction created it after this one began.
type StoreTx interface {
	GetDeal(ctx context.Context, addr models.Address) (*models.EscrowDeal, bool, error)
	CreateDeal(ctx context.Context, deal *models.EscrowDeal) error
	PutDeal(ctx context.Context, deal *models.EscrowDeal) error
	DeleteDeal(ctx context.Context, addr models.Address) error
	Balance(ctx context.Context, id models.Identity) (uint64, error)
	Credit(ctx context.Context, id models.Identity, amount uint64) error
	Debit(ctx context.Context, id models.Identity, amount uint64) error
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
}

// Confirmation is returned for every accepted transition. Signature references
// the appended transaction and can be used to look up the emitted event. Deal
// is the post-transition record; nil after a terminal transition, in which
// case Outcome and Amount describe the settlement.
type Confirmation struct {
	Signature string             `json:"signature"`
	Deal      *models.EscrowDeal `json:"deal,omitempty"`
	Outcome   string             `json:"outcome,omitempty"`
	Amount    uint64             `json:"amount,omitempty"`
}

// Engine validates and applies settlement transitions. It is a pure function
// of (record, operation, caller) per accepted operation; serialization comes
// from the store's transaction guarantees, not in-process locking.
type Engine struct {
	store     Store
	publisher events.Publisher
	log       *zap.Logger
	nowFn     func() time.Time
	sigFn     func() string
}

func NewEngine(store Store, publisher events.Publisher, log *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		log:       log,
		nowFn:     time.Now,
		sigFn:     newSignature,
	}
}

// SetNowFunc overrides the time source, for deterministic tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.nowFn = now
	}
}

// SetSignatureFunc overrides transition reference generation, for tests.
func (e *Engine) SetSignatureFunc(sig func() string) {
	if sig != nil {
		e.sigFn = sig
	}
}

// newSignature returns a fresh transition reference: base58 of 64 random
// bytes, the same shape the history cache stores as lastScannedReference.
func newSignature() string {
	var raw [64]byte
	_, _ = rand.Read(raw[:])
	return base58.Encode(raw[:])
}

// Initialize creates the deal record and its vault in Pending status. Fails if
// an open deal already exists for the pair.
func (e *Engine) Initialize(ctx context.Context, client, freelancer models.Identity, amount uint64, timeoutDays int) (*Confirmation, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if timeoutDays < 1 || timeoutDays > 90 {
		return nil, ErrInvalidTimeout
	}

	addr := DeriveAddress(client, freelancer)
	now := e.nowFn()
	deal := &models.EscrowDeal{
		Address:            addr,
		Client:             client,
		Freelancer:         freelancer,
		Amount:             amount,
		Status:             models.DealStatusPending,
		DisputeTimeoutDays: timeoutDays,
		CreatedAt:          now,
	}

	conf, err := e.apply(ctx, func(tx StoreTx) (any, []string, error) {
		if err := tx.CreateDeal(ctx, deal); err != nil {
			return nil, nil, err
		}
		ev := events.EscrowInitialized{EscrowKey: addr, Client: client, Freelancer: freelancer, Amount: amount}
		return ev, dealIdentities(deal), nil
	})
	if err != nil {
		return nil, err
	}
	conf.Deal = deal
	return conf, nil
}

// DepositFunds moves the agreed amount from the client into the vault.
func (e *Engine) DepositFunds(ctx context.Context, caller models.Identity, addr models.Address) (*Confirmation, error) {
	var deal *models.EscrowDeal
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		deal = d
		if caller != d.Client {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealStatusFunded) {
			return nil, ErrInvalidStatus
		}
		balance, err := tx.Balance(ctx, d.Client)
		if err != nil {
			return nil, err
		}
		if balance < d.Amount {
			return nil, ErrInsufficientFunds
		}
		if err := tx.Debit(ctx, d.Client, d.Amount); err != nil {
			return nil, err
		}
		if err := tx.Credit(ctx, d.Address, d.Amount); err != nil {
			return nil, err
		}
		now := e.nowFn()
		d.Status = models.DealStatusFunded
		d.FundedAt = &now
		if err := tx.PutDeal(ctx, d); err != nil {
			return nil, err
		}
		return events.FundsDeposited{EscrowKey: d.Address, Amount: d.Amount}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Deal = deal
	return conf, nil
}

// SubmitWork records the delivered work link and moves the deal to Submitted.
func (e *Engine) SubmitWork(ctx context.Context, caller models.Identity, addr models.Address, link string) (*Confirmation, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrInvalidWorkLink
	}
	if utf8.RuneCountInString(link) > maxWorkLinkChars || len(link) > maxWorkLinkBytes {
		return nil, ErrWorkLinkTooLong
	}

	var deal *models.EscrowDeal
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		deal = d
		if caller != d.Freelancer {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealStatusSubmitted) {
			return nil, ErrInvalidStatus
		}
		now := e.nowFn()
		d.WorkLink = link
		d.Status = models.DealStatusSubmitted
		d.SubmittedAt = &now
		if err := tx.PutDeal(ctx, d); err != nil {
			return nil, err
		}
		return events.WorkSubmitted{EscrowKey: d.Address, Freelancer: d.Freelancer, WorkLink: link}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Deal = deal
	return conf, nil
}

// ApproveSubmission accepts the submitted work.
func (e *Engine) ApproveSubmission(ctx context.Context, caller models.Identity, addr models.Address) (*Confirmation, error) {
	var deal *models.EscrowDeal
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		deal = d
		if caller != d.Client {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealStatusApproved) {
			return nil, ErrInvalidStatus
		}
		now := e.nowFn()
		d.Status = models.DealStatusApproved
		d.ApprovedAt = &now
		if err := tx.PutDeal(ctx, d); err != nil {
			return nil, err
		}
		return events.SubmissionApproved{EscrowKey: d.Address, Client: d.Client}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Deal = deal
	return conf, nil
}

// WithdrawPayment transfers the entire vault balance to the freelancer and
// deletes the record and vault. Terminal: Complete.
func (e *Engine) WithdrawPayment(ctx context.Context, caller models.Identity, addr models.Address) (*Confirmation, error) {
	var paid uint64
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		if caller != d.Freelancer {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealOutcomeComplete) {
			return nil, ErrInvalidStatus
		}
		balance, err := tx.Balance(ctx, d.Address)
		if err != nil {
			return nil, err
		}
		paid = balance
		if err := tx.Debit(ctx, d.Address, balance); err != nil {
			return nil, err
		}
		if err := tx.Credit(ctx, d.Freelancer, balance); err != nil {
			return nil, err
		}
		if err := tx.DeleteDeal(ctx, d.Address); err != nil {
			return nil, err
		}
		return events.PaymentWithdrawn{EscrowKey: d.Address, Freelancer: d.Freelancer, Amount: balance}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Outcome = models.DealOutcomeComplete
	conf.Amount = paid
	return conf, nil
}

// InitiateDispute flags a funded or submitted deal as disputed.
func (e *Engine) InitiateDispute(ctx context.Context, caller models.Identity, addr models.Address) (*Confirmation, error) {
	var deal *models.EscrowDeal
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		deal = d
		if caller != d.Client {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealStatusDisputed) {
			return nil, ErrInvalidStatus
		}
		now := e.nowFn()
		d.Status = models.DealStatusDisputed
		d.DisputedAt = &now
		if err := tx.PutDeal(ctx, d); err != nil {
			return nil, err
		}
		return events.DisputeInitiated{EscrowKey: d.Address, Initiator: caller}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Deal = deal
	return conf, nil
}

// RefundClient returns the entire vault balance to the client and deletes the
// record and vault. Requires a prior dispute. Terminal: Refunded.
func (e *Engine) RefundClient(ctx context.Context, caller models.Identity, addr models.Address) (*Confirmation, error) {
	var refunded uint64
	conf, err := e.applyAt(ctx, addr, func(tx StoreTx, d *models.EscrowDeal) (any, error) {
		if caller != d.Client {
			return nil, ErrUnauthorized
		}
		if !models.IsValidTransition(d.Status, models.DealOutcomeRefunded) {
			return nil, ErrInvalidStatus
		}
		balance, err := tx.Balance(ctx, d.Address)
		if err != nil {
			return nil, err
		}
		refunded = balance
		if err := tx.Debit(ctx, d.Address, balance); err != nil {
			return nil, err
		}
		if err := tx.Credit(ctx, d.Client, balance); err != nil {
			return nil, err
		}
		if err := tx.DeleteDeal(ctx, d.Address); err != nil {
			return nil, err
		}
		return events.ClientRefunded{EscrowKey: d.Address, Client: d.Client, Amount: balance}, nil
	})
	if err != nil {
		return nil, err
	}
	conf.Outcome = models.DealOutcomeRefunded
	conf.Amount = refunded
	return conf, nil
}

// Get returns an open deal, or ErrRecordNotFound when the record is absent —
// indistinguishable from never having existed.
func (e *Engine) Get(ctx context.Context, addr models.Address) (*models.EscrowDeal, error) {
	deal, ok, err := e.store.GetDeal(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	return deal, nil
}

// ListForIdentity returns all open deals the identity participates in.
func (e *Engine) ListForIdentity(ctx context.Context, id models.Identity) ([]models.EscrowDeal, error) {
	return e.store.ListDealsForIdentity(ctx, id)
}

// Balance returns the ledger balance of an account.
func (e *Engine) Balance(ctx context.Context, id models.Identity) (uint64, error) {
	return e.store.Balance(ctx, id)
}

// Airdrop credits an account outside of any deal. Dev faucet; emits no
// settlement event.
func (e *Engine) Airdrop(ctx context.Context, id models.Identity, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return e.store.Atomically(ctx, func(tx StoreTx) error {
		return tx.Credit(ctx, id, amount)
	})
}

// applyAt loads the deal, runs the transition, and appends the emitted event,
// all in one store transaction. The transaction is indexed under the vault
// address and both parties, so either party's history scan observes it.
func (e *Engine) applyAt(ctx context.Context, addr models.Address, fn func(tx StoreTx, d *models.EscrowDeal) (any, error)) (*Confirmation, error) {
	return e.apply(ctx, func(tx StoreTx) (any, []string, error) {
		d, ok, err := tx.GetDeal(ctx, addr)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, ErrRecordNotFound
		}
		ev, err := fn(tx, d)
		return ev, dealIdentities(d), err
	})
}

func (e *Engine) apply(ctx context.Context, fn func(tx StoreTx) (any, []string, error)) (*Confirmation, error) {
	sig := e.sigFn()
	var emitted any
	var emittedIDs []string
	err := e.store.Atomically(ctx, func(tx StoreTx) error {
		ev, ids, err := fn(tx)
		if err != nil {
			return err
		}
		emitted = ev
		emittedIDs = ids
		line, err := events.Encode(ev)
		if err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &models.Transaction{
			Signature:  sig,
			BlockTime:  e.nowFn(),
			Identities: ids,
			Logs:       []string{line},
		})
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, sig, emitted, emittedIDs)
	return &Confirmation{Signature: sig}, nil
}

func dealIdentities(d *models.EscrowDeal) []string {
	return []string{d.Address.String(), d.Client.String(), d.Freelancer.String()}
}

// notify mirrors the accepted transition to pubsub, tagged with the deal's
// identities so the websocket hub can route it to the parties involved. Best
// effort: the durable record is already committed.
func (e *Engine) notify(ctx context.Context, sig string, ev any, ids []string) {
	if e.publisher == nil {
		return
	}
	var name, escrow string
	switch t := ev.(type) {
	case events.EscrowInitialized:
		name, escrow = "EscrowInitialized", t.EscrowKey.String()
	case events.FundsDeposited:
		name, escrow = "FundsDeposited", t.EscrowKey.String()
	case events.WorkSubmitted:
		name, escrow = "WorkSubmitted", t.EscrowKey.String()
	case events.SubmissionApproved:
		name, escrow = "SubmissionApproved", t.EscrowKey.String()
	case events.PaymentWithdrawn:
		name, escrow = "PaymentWithdrawn", t.EscrowKey.String()
	case events.DisputeInitiated:
		name, escrow = "DisputeInitiated", t.EscrowKey.String()
	case events.ClientRefunded:
		name, escrow = "ClientRefunded", t.EscrowKey.String()
	}
	err := e.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type:    events.EventTransition,
		Payload: map[string]any{"signature": sig, "event": name, "escrow": escrow, "identities": ids},
	})
	if err != nil {
		e.log.Warn("transition pubsub publish failed", zap.Error(err))
	}
}
