package events

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/freelance-escrow/backend/internal/models"
	"lukechampine.com/blake3"
)

// Settlement events appended to the public transaction log. One per accepted
// transition. They deliberately carry no status field: a reader infers status
// from which event types it has observed.
type (
	EscrowInitialized struct {
		EscrowKey  models.Address
		Client     models.Identity
		Freelancer models.Identity
		Amount     uint64
	}

	FundsDeposited struct {
		EscrowKey models.Address
		Amount    uint64
	}

	WorkSubmitted struct {
		EscrowKey  models.Address
		Freelancer models.Identity
		WorkLink   string
	}

	SubmissionApproved struct {
		EscrowKey models.Address
		Client    models.Identity
	}

	PaymentWithdrawn struct {
		EscrowKey  models.Address
		Freelancer models.Identity
		Amount     uint64
	}

	DisputeInitiated struct {
		EscrowKey models.Address
		Initiator models.Identity
	}

	ClientRefunded struct {
		EscrowKey models.Address
		Client    models.Identity
		Amount    uint64
	}
)

var ErrUnknownEvent = errors.New("events: unknown discriminator")

// Each log line starts with an 8-byte type discriminator derived from the
// event name under a fixed domain prefix, followed by the fixed-layout
// payload: raw 32-byte keys, little-endian u64 amounts, u32-length-prefixed
// UTF-8 text.
func discriminator(name string) [8]byte {
	sum := blake3.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	discEscrowInitialized  = discriminator("EscrowInitialized")
	discFundsDeposited     = discriminator("FundsDeposited")
	discWorkSubmitted      = discriminator("WorkSubmitted")
	discSubmissionApproved = discriminator("SubmissionApproved")
	discPaymentWithdrawn   = discriminator("PaymentWithdrawn")
	discDisputeInitiated   = discriminator("DisputeInitiated")
	discClientRefunded     = discriminator("ClientRefunded")
)

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) key(k models.Identity) {
	w.buf = append(w.buf, k[:]...)
}

func (w *payloadWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *payloadWriter) str(s string) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Encode serializes an event to a base64 log line.
func Encode(ev any) (string, error) {
	var w payloadWriter
	switch e := ev.(type) {
	case EscrowInitialized:
		w.buf = append(w.buf, discEscrowInitialized[:]...)
		w.key(e.EscrowKey)
		w.key(e.Client)
		w.key(e.Freelancer)
		w.u64(e.Amount)
	case FundsDeposited:
		w.buf = append(w.buf, discFundsDeposited[:]...)
		w.key(e.EscrowKey)
		w.u64(e.Amount)
	case WorkSubmitted:
		w.buf = append(w.buf, discWorkSubmitted[:]...)
		w.key(e.EscrowKey)
		w.key(e.Freelancer)
		w.str(e.WorkLink)
	case SubmissionApproved:
		w.buf = append(w.buf, discSubmissionApproved[:]...)
		w.key(e.EscrowKey)
		w.key(e.Client)
	case PaymentWithdrawn:
		w.buf = append(w.buf, discPaymentWithdrawn[:]...)
		w.key(e.EscrowKey)
		w.key(e.Freelancer)
		w.u64(e.Amount)
	case DisputeInitiated:
		w.buf = append(w.buf, discDisputeInitiated[:]...)
		w.key(e.EscrowKey)
		w.key(e.Initiator)
	case ClientRefunded:
		w.buf = append(w.buf, discClientRefunded[:]...)
		w.key(e.EscrowKey)
		w.key(e.Client)
		w.u64(e.Amount)
	default:
		return "", fmt.Errorf("events: cannot encode %T", ev)
	}
	return base64.StdEncoding.EncodeToString(w.buf), nil
}

type payloadReader struct {
	buf []byte
	off int
	err error
}

func (r *payloadReader) key() (k models.Identity) {
	if r.err != nil {
		return
	}
	if r.off+32 > len(r.buf) {
		r.err = errors.New("events: truncated key")
		return
	}
	copy(k[:], r.buf[r.off:r.off+32])
	r.off += 32
	return
}

func (r *payloadReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.err = errors.New("events: truncated u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *payloadReader) str() string {
	if r.err != nil {
		return ""
	}
	if r.off+4 > len(r.buf) {
		r.err = errors.New("events: truncated string length")
		return ""
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	if r.off+n > len(r.buf) {
		r.err = errors.New("events: truncated string")
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

// Decode parses a base64 log line back into a typed event. Lines written by
// other programs, or event types this reader does not know, return
// ErrUnknownEvent so callers can skip them.
func Decode(line string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("events: bad log line: %w", err)
	}
	if len(raw) < 8 {
		return nil, ErrUnknownEvent
	}
	var disc [8]byte
	copy(disc[:], raw[:8])
	r := &payloadReader{buf: raw, off: 8}

	var ev any
	switch disc {
	case discEscrowInitialized:
		ev = EscrowInitialized{EscrowKey: r.key(), Client: r.key(), Freelancer: r.key(), Amount: r.u64()}
	case discFundsDeposited:
		ev = FundsDeposited{EscrowKey: r.key(), Amount: r.u64()}
	case discWorkSubmitted:
		ev = WorkSubmitted{EscrowKey: r.key(), Freelancer: r.key(), WorkLink: r.str()}
	case discSubmissionApproved:
		ev = SubmissionApproved{EscrowKey: r.key(), Client: r.key()}
	case discPaymentWithdrawn:
		ev = PaymentWithdrawn{EscrowKey: r.key(), Freelancer: r.key(), Amount: r.u64()}
	case discDisputeInitiated:
		ev = DisputeInitiated{EscrowKey: r.key(), Initiator: r.key()}
	case discClientRefunded:
		ev = ClientRefunded{EscrowKey: r.key(), Client: r.key(), Amount: r.u64()}
	default:
		return nil, ErrUnknownEvent
	}
	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}
