package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Directory {
	t.Helper()
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRegisterAndNameFor(t *testing.T) {
	d := openTest(t)
	nonce, err := d.Register(context.Background(), "  Alice  ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if nonce == "" {
		t.Fatal("Register returned empty nonce")
	}

	name, ok := d.NameFor(nonce)
	if !ok {
		t.Fatal("NameFor reported not found for a freshly registered nonce")
	}
	if name != "Alice" {
		t.Fatalf("name = %q, want trimmed %q", name, "Alice")
	}
}

func TestNameForUnknownNonce(t *testing.T) {
	d := openTest(t)
	_, ok := d.NameFor("does-not-exist")
	if ok {
		t.Fatal("NameFor should report not found for an unregistered nonce")
	}
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	d := openTest(t)
	if _, err := d.Register(context.Background(), "   "); err == nil {
		t.Fatal("Register should reject an empty/whitespace name")
	}
}

func TestEachRegisterMintsAFreshNonce(t *testing.T) {
	d := openTest(t)
	a, err := d.Register(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := d.Register(context.Background(), "Bob")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a == b {
		t.Fatal("two Register calls for the same name produced the same nonce")
	}
}

func TestPruneRemovesStaleSessions(t *testing.T) {
	d := openTest(t)
	nonce, err := d.Register(context.Background(), "Carol")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	n, err := d.Prune(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("Prune removed %d rows, want 0 (session is fresh)", n)
	}

	n, err = d.Prune(context.Background(), -time.Second)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune removed %d rows, want 1 (negative maxAge makes every session stale)", n)
	}

	if _, ok := d.NameFor(nonce); ok {
		t.Fatal("NameFor should fail for a pruned nonce")
	}
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	d := openTest(t)
	nonce, err := d.Register(context.Background(), "Dana")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := d.db.Exec(`UPDATE sessions SET last_seen = 0 WHERE nonce = ?`, nonce); err != nil {
		t.Fatalf("reset last_seen: %v", err)
	}
	if err := d.Touch(context.Background(), nonce); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	var lastSeen int64
	if err := d.db.QueryRow(`SELECT last_seen FROM sessions WHERE nonce = ?`, nonce).Scan(&lastSeen); err != nil {
		t.Fatalf("read last_seen: %v", err)
	}
	if lastSeen == 0 {
		t.Fatal("Touch did not update last_seen")
	}
}
