// Package audit is the append-only ledger of portal interactions. Every entry
// carries a confirmation hash over its content and the previous entry's hash,
// so both single-entry tampering and reordering are detectable.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log"
	"strconv"
	"time"

	"github.com/david/govcapture/internal/metrics"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

const (
	AlgHMACSHA256 = "hmac-sha256"
	AlgSHA256     = "sha256"
)

// Ledger actions written by the engine.
const (
	ActionSubmit      = "SUBMIT"
	ActionDryRun      = "DRY_RUN"
	ActionStatusCheck = "STATUS_CHECK"
)

var ErrIntegrityFailure = errors.New("audit integrity failure")

// LedgerStore persists entries. AppendAudit must call build with the current
// ledger head (nil when empty) and store the result atomically, with no other
// append interleaved between reading the head and writing.
type LedgerStore interface {
	AppendAudit(ctx context.Context, build func(prev *models.AuditLogEntry) (models.AuditLogEntry, error)) (models.AuditLogEntry, error)
	GetAudit(ctx context.Context, id uuid.UUID) (models.AuditLogEntry, error)
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, error)
}

// Record is the caller-supplied content of a new entry.
type Record struct {
	SubmissionID  uuid.UUID
	SubmissionRef string
	Portal        string
	Action        string
	Status        string
	ReceiptID     string
	Payload       any
}

// Verdict is the outcome of re-checking one stored entry.
type Verdict struct {
	EntryID uuid.UUID `json:"entry_id"`
	Valid   bool      `json:"valid"`
	Message string    `json:"message"`
	HashAlg string    `json:"hash_alg,omitempty"`
}

// Err returns ErrIntegrityFailure for an invalid verdict.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return fmt.Errorf("%w: entry %s: %s", ErrIntegrityFailure, v.EntryID, v.Message)
}

type Vault struct {
	store LedgerStore
	key   []byte
	now   func() time.Time
}

// NewVault returns a vault that signs with HMAC-SHA256 when key is non-empty
// and falls back to a bare SHA-256 digest otherwise.
func NewVault(store LedgerStore, key []byte) *Vault {
	if len(key) == 0 {
		log.Printf("[audit] AUDIT_SIGNING_KEY not set; entries are hashed with unkeyed sha256")
	}
	return &Vault{store: store, key: key, now: time.Now}
}

// Keyed reports whether new entries are HMAC-signed.
func (v *Vault) Keyed() bool { return len(v.key) > 0 }

func (v *Vault) alg() string {
	if v.Keyed() {
		return AlgHMACSHA256
	}
	return AlgSHA256
}

// Append writes a new entry and returns it as stored.
func (v *Vault) Append(ctx context.Context, rec Record) (models.AuditLogEntry, error) {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("encode audit payload: %w", err)
	}
	// Postgres keeps microseconds; truncating first keeps the hashed timestamp
	// identical to the one read back.
	ts := v.now().UTC().Truncate(time.Microsecond)

	entry, err := v.store.AppendAudit(ctx, func(prev *models.AuditLogEntry) (models.AuditLogEntry, error) {
		e := models.AuditLogEntry{
			ID:            uuid.New(),
			Seq:           1,
			SubmissionID:  rec.SubmissionID,
			SubmissionRef: rec.SubmissionRef,
			Timestamp:     ts,
			Portal:        rec.Portal,
			Action:        rec.Action,
			Status:        rec.Status,
			ReceiptID:     rec.ReceiptID,
			Payload:       payload,
			HashAlg:       v.alg(),
		}
		if prev != nil {
			e.Seq = prev.Seq + 1
			e.PrevHash = prev.ConfirmationHash
		}
		e.ConfirmationHash = v.digest(e)
		return e, nil
	})
	if err != nil {
		return models.AuditLogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	metrics.AuditAppends.WithLabelValues(rec.Action).Inc()
	return entry, nil
}

// Verify recomputes the digest of a stored entry. A mismatch is reported in
// the verdict, never repaired.
func (v *Vault) Verify(ctx context.Context, id uuid.UUID) (Verdict, error) {
	e, err := v.store.GetAudit(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	verdict := v.check(e)
	if !verdict.Valid {
		metrics.AuditVerifyFailures.Inc()
		log.Printf("[audit] integrity failure on entry %s (seq %d): %s", e.ID, e.Seq, verdict.Message)
	}
	return verdict, nil
}

func (v *Vault) check(e models.AuditLogEntry) Verdict {
	out := Verdict{EntryID: e.ID, HashAlg: e.HashAlg}
	switch e.HashAlg {
	case AlgHMACSHA256:
		if !v.Keyed() {
			out.Message = "entry is HMAC-signed but no signing key is configured"
			return out
		}
	case AlgSHA256:
		if v.Keyed() {
			out.Message = "entry is not signed with the vault key"
			return out
		}
	default:
		out.Message = fmt.Sprintf("unknown hash algorithm %q", e.HashAlg)
		return out
	}

	want, err := hex.DecodeString(e.ConfirmationHash)
	if err != nil {
		out.Message = "stored confirmation hash is not valid hex"
		return out
	}
	got, _ := hex.DecodeString(v.digest(e))
	if !hmac.Equal(want, got) {
		out.Message = "confirmation hash does not match stored content"
		return out
	}
	out.Valid = true
	out.Message = "entry verified"
	return out
}

// digest hashes every bound field, each length-prefixed so that no two
// distinct field sets share an encoding.
func (v *Vault) digest(e models.AuditLogEntry) string {
	var h hash.Hash
	if e.HashAlg == AlgHMACSHA256 {
		h = hmac.New(sha256.New, v.key)
	} else {
		h = sha256.New()
	}
	fields := [][]byte{
		[]byte(e.SubmissionID.String()),
		[]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)),
		[]byte(e.Portal),
		[]byte(e.Action),
		[]byte(e.ReceiptID),
		e.Payload,
		[]byte(e.Status),
		[]byte(e.SubmissionRef),
		[]byte(strconv.FormatInt(e.Seq, 10)),
		[]byte(e.PrevHash),
	}
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encodePayload(p any) (json.RawMessage, error) {
	switch val := p.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), val...), nil
	case []byte:
		if !json.Valid(val) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), val...), nil
	}
	return json.Marshal(p)
}
