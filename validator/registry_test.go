package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/aidledger/aidledger/crypto"
	"github.com/aidledger/aidledger/ledgerdb/memorydb"
	"github.com/aidledger/aidledger/vault"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(memorydb.New())
}

// ── Registration ─────────────────────────────────────────────────────────────

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("alpha", "10.0.0.1:8545", 0, "passphrase")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if v.ID == "" || v.PublicKey == "" || v.EncryptedPrivateKey == "" {
		t.Fatalf("incomplete validator row: %+v", v)
	}
	if !v.IsActive {
		t.Fatal("new validator not active")
	}
	if v.TotalBlocksCreated != 0 || v.LastBlockCreatedAt != nil {
		t.Fatal("new validator has block history")
	}

	// The stored key must decrypt under the registration passphrase and
	// actually pair with the stored public key.
	priv, err := vault.Decrypt(v.EncryptedPrivateKey, "passphrase")
	if err != nil {
		t.Fatalf("decrypt stored key: %v", err)
	}
	sig, err := crypto.Sign(priv, []byte("probe"))
	if err != nil {
		t.Fatalf("sign with stored key: %v", err)
	}
	if !crypto.Verify(v.PublicKey, []byte("probe"), sig) {
		t.Fatal("stored keypair does not verify")
	}
}

func TestRegisterUniqueness(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("alpha", "", 0, "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("alpha", "", 1, "pw"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("err = %v, want ErrNameTaken", err)
	}
	if _, err := r.Register("", "", 0, "pw"); !errors.Is(err, ErrBadName) {
		t.Fatalf("err = %v, want ErrBadName", err)
	}
}

// ── Lookups ──────────────────────────────────────────────────────────────────

func TestLookups(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Register("alpha", "", 0, "pw")
	if err != nil {
		t.Fatal(err)
	}

	byID, err := r.ByID(v.ID)
	if err != nil || byID.Name != "alpha" {
		t.Fatalf("ByID = (%v, %v)", byID, err)
	}
	byName, err := r.ByName("alpha")
	if err != nil || byName.ID != v.ID {
		t.Fatalf("ByName = (%v, %v)", byName, err)
	}
	byPub, err := r.ByPublicKey(v.PublicKey)
	if err != nil || byPub.ID != v.ID {
		t.Fatalf("ByPublicKey = (%v, %v)", byPub, err)
	}

	if _, err := r.ByID("missing"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("missing id err = %v, want ErrUnknown", err)
	}
	if _, err := r.ByName("missing"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("missing name err = %v, want ErrUnknown", err)
	}
}

// ── Ordering and proposer selection ──────────────────────────────────────────

func TestActiveOrdered(t *testing.T) {
	r := newTestRegistry(t)
	// Registration order: c(2), a(0), b(1). Active order must be a, b, c.
	for _, reg := range []struct {
		name     string
		priority uint64
	}{{"c", 2}, {"a", 0}, {"b", 1}} {
		if _, err := r.Register(reg.name, "", reg.priority, "pw"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	vs, err := r.ActiveOrdered()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, v := range vs {
		names = append(names, v.Name)
	}
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("active order = %v, want [a b c]", names)
	}
}

func TestNextProposerRoundRobin(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.Register("a", "", 0, "pw")
	time.Sleep(2 * time.Millisecond)
	b, _ := r.Register("b", "", 0, "pw")
	time.Sleep(2 * time.Millisecond)
	c, _ := r.Register("c", "", 0, "pw")

	// With equal priority and zero counters the oldest goes first; after each
	// production the pick rotates to the next-least-used validator.
	want := []string{a.ID, b.ID, c.ID, a.ID, b.ID, c.ID}
	for i, id := range want {
		v, err := r.NextProposer()
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if v.ID != id {
			t.Fatalf("round %d picked %s, want %s", i, v.Name, id)
		}
		if err := r.RecordBlockCreation(v.ID); err != nil {
			t.Fatalf("RecordBlockCreation: %v", err)
		}
	}
}

func TestNextProposerPriorityBreaksTies(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("low", "", 5, "pw"); err != nil {
		t.Fatal(err)
	}
	high, err := r.Register("high", "", 1, "pw")
	if err != nil {
		t.Fatal(err)
	}

	v, err := r.NextProposer()
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != high.ID {
		t.Fatalf("picked %s, want the lower-priority-value validator", v.Name)
	}
}

func TestNextProposerSkipsInactive(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.Register("a", "", 0, "pw")
	time.Sleep(2 * time.Millisecond)
	b, _ := r.Register("b", "", 0, "pw")

	if err := r.Deactivate(a.ID); err != nil {
		t.Fatal(err)
	}
	v, err := r.NextProposer()
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != b.ID {
		t.Fatalf("picked deactivated validator %s", v.Name)
	}

	if err := r.Deactivate(b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.NextProposer(); !errors.Is(err, ErrNoActive) {
		t.Fatalf("err = %v, want ErrNoActive", err)
	}

	// Reactivation restores eligibility.
	if err := r.Activate(a.ID); err != nil {
		t.Fatal(err)
	}
	if v, err := r.NextProposer(); err != nil || v.ID != a.ID {
		t.Fatalf("after reactivation: (%v, %v)", v, err)
	}
}

func TestRecordBlockCreation(t *testing.T) {
	r := newTestRegistry(t)
	v, _ := r.Register("a", "", 0, "pw")
	if err := r.RecordBlockCreation(v.ID); err != nil {
		t.Fatal(err)
	}
	got, err := r.ByID(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalBlocksCreated != 1 || got.LastBlockCreatedAt == nil {
		t.Fatalf("stats not updated: %+v", got)
	}
	if err := r.RecordBlockCreation("missing"); !errors.Is(err, ErrUnknown) {
		t.Fatalf("err = %v, want ErrUnknown", err)
	}
}

// ── Updates ──────────────────────────────────────────────────────────────────

func TestUpdates(t *testing.T) {
	r := newTestRegistry(t)
	v, _ := r.Register("a", "old:1", 3, "pw")

	if err := r.UpdatePriority(v.ID, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateAddress(v.ID, "new:2"); err != nil {
		t.Fatal(err)
	}
	got, err := r.ByID(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != 0 || got.Address != "new:2" {
		t.Fatalf("updates not applied: %+v", got)
	}
}

func TestCount(t *testing.T) {
	r := newTestRegistry(t)
	a, _ := r.Register("a", "", 0, "pw")
	if _, err := r.Register("b", "", 0, "pw"); err != nil {
		t.Fatal(err)
	}
	if err := r.Deactivate(a.ID); err != nil {
		t.Fatal(err)
	}
	total, active, err := r.Count()
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || active != 1 {
		t.Fatalf("count = (%d, %d), want (2, 1)", total, active)
	}
}
