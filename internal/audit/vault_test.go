package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/models"
	"github.com/google/uuid"
)

// tamperStore lets a test rewrite stored entries out-of-band.
type tamperStore struct {
	*db.MemoryStore
	mu     sync.Mutex
	mutate map[uuid.UUID]func(*models.AuditLogEntry)
}

func newTamperStore() *tamperStore {
	return &tamperStore{MemoryStore: db.NewMemoryStore(), mutate: map[uuid.UUID]func(*models.AuditLogEntry){}}
}

func (s *tamperStore) tamper(id uuid.UUID, fn func(*models.AuditLogEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutate[id] = fn
}

func (s *tamperStore) apply(e models.AuditLogEntry) models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn, ok := s.mutate[e.ID]; ok {
		fn(&e)
	}
	return e
}

func (s *tamperStore) GetAudit(ctx context.Context, id uuid.UUID) (models.AuditLogEntry, error) {
	e, err := s.MemoryStore.GetAudit(ctx, id)
	if err != nil {
		return e, err
	}
	return s.apply(e), nil
}

func (s *tamperStore) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	entries, err := s.MemoryStore.ListAudit(ctx, f)
	for i := range entries {
		entries[i] = s.apply(entries[i])
	}
	return entries, err
}

func submitRecord(subID uuid.UUID) Record {
	return Record{
		SubmissionID:  subID,
		SubmissionRef: "SUB-" + subID.String()[:8],
		Portal:        "SAM.gov",
		Action:        ActionSubmit,
		Status:        models.AuditStatusConfirmed,
		ReceiptID:     "RCPT-42",
		Payload:       map[string]any{"confirmation_number": "CN-1", "duration_ms": 1200},
	}
}

func TestAppendThenVerifyRoundTrip(t *testing.T) {
	for _, key := range [][]byte{nil, []byte("vault-secret")} {
		ctx := context.Background()
		store := newTamperStore()
		v := NewVault(store, key)

		e, err := v.Append(ctx, submitRecord(uuid.New()))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if e.ConfirmationHash == "" || e.Seq != 1 || e.PrevHash != "" {
			t.Fatalf("unexpected first entry %+v", e)
		}
		verdict, err := v.Verify(ctx, e.ID)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !verdict.Valid || verdict.Err() != nil {
			t.Fatalf("expected valid verdict, got %+v", verdict)
		}
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	mutations := map[string]func(*models.AuditLogEntry){
		"payload":   func(e *models.AuditLogEntry) { e.Payload = json.RawMessage(`{"confirmation_number":"CN-2","duration_ms":1200}`) },
		"receipt":   func(e *models.AuditLogEntry) { e.ReceiptID = "RCPT-43" },
		"portal":    func(e *models.AuditLogEntry) { e.Portal = "eBuy" },
		"status":    func(e *models.AuditLogEntry) { e.Status = models.AuditStatusFailed },
		"timestamp": func(e *models.AuditLogEntry) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"hash":      func(e *models.AuditLogEntry) { e.ConfirmationHash = strings.Repeat("0", 64) },
		"alg":       func(e *models.AuditLogEntry) { e.HashAlg = AlgSHA256 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newTamperStore()
			v := NewVault(store, []byte("vault-secret"))
			e, err := v.Append(ctx, submitRecord(uuid.New()))
			if err != nil {
				t.Fatal(err)
			}
			store.tamper(e.ID, mutate)

			verdict, err := v.Verify(ctx, e.ID)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if verdict.Valid {
				t.Fatal("tampered entry verified as valid")
			}
			if !errors.Is(verdict.Err(), ErrIntegrityFailure) {
				t.Fatalf("expected ErrIntegrityFailure, got %v", verdict.Err())
			}
			if verdict.Message == "" {
				t.Fatal("verdict must carry a message")
			}
		})
	}
}

func TestKeyedVaultRejectsForgedUnkeyedEntry(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	unkeyed := NewVault(store, nil)
	e, err := unkeyed.Append(ctx, submitRecord(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}

	keyed := NewVault(store, []byte("vault-secret"))
	verdict, err := keyed.Verify(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.Valid {
		t.Fatal("keyed vault accepted an unkeyed entry")
	}
}

func TestWrongKeyFailsVerification(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	e, err := NewVault(store, []byte("key-a")).Append(ctx, submitRecord(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	verdict, _ := NewVault(store, []byte("key-b")).Verify(ctx, e.ID)
	if verdict.Valid {
		t.Fatal("entry verified under a different key")
	}
}

func TestVerifyUnknownEntryIsNotFound(t *testing.T) {
	v := NewVault(newTamperStore(), nil)
	if _, err := v.Verify(context.Background(), uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPayloadBytesArePreserved(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	v := NewVault(store, nil)
	raw := json.RawMessage(`{"z":1,  "a":[2,1]}`)
	rec := submitRecord(uuid.New())
	rec.Payload = raw
	e, err := v.Append(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Payload) != string(raw) {
		t.Fatalf("payload re-encoded: %s", e.Payload)
	}

	rec.Payload = json.RawMessage(`{not json`)
	if _, err := v.Append(ctx, rec); err == nil {
		t.Fatal("expected invalid JSON payload to be refused")
	}
}

func TestConcurrentAppendsFormSingleChain(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	v := NewVault(store, []byte("vault-secret"))

	subs := make([]uuid.UUID, 8)
	for i := range subs {
		subs[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, id := range subs {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(id uuid.UUID, j int) {
				defer wg.Done()
				rec := submitRecord(id)
				rec.Action = ActionStatusCheck
				rec.Payload = map[string]int{"n": j}
				if _, err := v.Append(ctx, rec); err != nil {
					t.Errorf("append: %v", err)
				}
			}(id, j)
		}
	}
	wg.Wait()

	report, err := v.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != 80 {
		t.Fatalf("expected 80 chained entries, got %+v", report)
	}

	// Within one submission, sequence numbers must be strictly increasing.
	for _, id := range subs {
		id := id
		entries, _ := v.List(ctx, models.AuditFilter{SubmissionID: &id})
		for i := 1; i < len(entries); i++ {
			if entries[i].Seq <= entries[i-1].Seq {
				t.Fatalf("submission %s entries out of order", id)
			}
		}
	}
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	v := NewVault(store, nil)
	var second models.AuditLogEntry
	for i := 0; i < 3; i++ {
		e, err := v.Append(ctx, submitRecord(uuid.New()))
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			second = e
		}
	}
	store.tamper(second.ID, func(e *models.AuditLogEntry) { e.PrevHash = "forged" })

	report, err := v.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid || report.FirstBad == nil || *report.FirstBad != second.ID {
		t.Fatalf("expected break at second entry, got %+v", report)
	}
}

func TestExportEchoesStoredHashAndFlagsFailures(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	v := NewVault(store, []byte("vault-secret"))

	subID := uuid.New()
	var stored []models.AuditLogEntry
	for i := 0; i < 3; i++ {
		rec := submitRecord(subID)
		rec.Payload = map[string]int{"attempt": i}
		e, err := v.Append(ctx, rec)
		if err != nil {
			t.Fatal(err)
		}
		stored = append(stored, e)
	}
	if _, err := v.Append(ctx, submitRecord(uuid.New())); err != nil {
		t.Fatal(err)
	}

	snap, err := v.Export(ctx, models.AuditFilter{SubmissionID: &subID})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 3 || !snap.Trusted {
		t.Fatalf("expected 3 trusted entries, got %+v", snap)
	}
	for i, e := range snap.Entries {
		if e.ConfirmationHash != stored[i].ConfirmationHash || !e.Verified {
			t.Fatalf("entry %d: export altered stored hash or failed verify", i)
		}
	}

	store.tamper(stored[1].ID, func(e *models.AuditLogEntry) { e.Payload = json.RawMessage(`{"attempt":9}`) })
	snap, err = v.Export(ctx, models.AuditFilter{SubmissionID: &subID})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Trusted {
		t.Fatal("snapshot with a tampered entry must not be trusted")
	}
	if snap.Entries[1].Verified || !snap.Entries[0].Verified || !snap.Entries[2].Verified {
		t.Fatal("only the tampered entry should be flagged")
	}
	if snap.Entries[1].ConfirmationHash != stored[1].ConfirmationHash {
		t.Fatal("export must echo the originally stored hash")
	}
}

func TestExportFiltersByStatusAndTime(t *testing.T) {
	ctx := context.Background()
	store := newTamperStore()
	v := NewVault(store, nil)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []string{models.AuditStatusConfirmed, models.AuditStatusPending, models.AuditStatusConfirmed} {
		at := base.Add(time.Duration(i) * time.Hour)
		v.now = func() time.Time { return at }
		rec := submitRecord(uuid.New())
		rec.Status = status
		if _, err := v.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	from := base.Add(30 * time.Minute)
	snap, err := v.Export(ctx, models.AuditFilter{Status: models.AuditStatusConfirmed, From: &from})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != 1 || !snap.Entries[0].Timestamp.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected filtered export %+v", snap)
	}
}
