package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/backup"
	"tally/internal/core"
	"tally/internal/storage"
)

func seededStore(t *testing.T) storage.Store {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	f := core.Friend{Name: "Alice", Balance: decimal.RequireFromString("300")}
	if err := store.SaveFriend(ctx, &f); err != nil {
		t.Fatalf("seed friend: %v", err)
	}
	txn := core.Transaction{FriendID: f.ID, Amount: decimal.RequireFromString("300"), Type: core.Loan, Timestamp: 1000}
	if err := store.SaveTransaction(ctx, &txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return store
}

func TestWriteBackupProducesValidDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewBackupWorker(seededStore(t), dir, 5, 0)

	path, err := w.WriteBackup(ctx)
	if err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("backup written outside dir: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	doc, err := backup.Decode(data)
	if err != nil {
		t.Fatalf("backup does not decode: %v", err)
	}
	if len(doc.Friends) != 1 || len(doc.Transactions) != 1 {
		t.Fatalf("backup content wrong: %d friends, %d transactions", len(doc.Friends), len(doc.Transactions))
	}
}

func TestPruneKeepsNewestFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewBackupWorker(seededStore(t), dir, 3, 0)

	// Fake clock so every file gets a distinct, ordered name.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	w.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 6; i++ {
		if _, err := w.WriteBackup(ctx); err != nil {
			t.Fatalf("WriteBackup %d: %v", i, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, backupFilePattern))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("prune left %d files, want 3", len(files))
	}
}

func TestMarkDirtyCoalesces(t *testing.T) {
	w := NewBackupWorker(seededStore(t), t.TempDir(), 5, 0)

	// A burst of marks must not block and must leave one pending signal.
	for i := 0; i < 10; i++ {
		w.MarkDirty()
	}
	select {
	case <-w.dirty:
	default:
		t.Fatal("no pending backup signal after MarkDirty")
	}
	select {
	case <-w.dirty:
		t.Fatal("burst of marks left more than one pending signal")
	default:
	}
}

func TestRunWritesBackupOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	w := NewBackupWorker(seededStore(t), dir, 5, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, time.Hour)
	}()

	w.MarkDirty()

	deadline := time.After(2 * time.Second)
	for {
		files, err := filepath.Glob(filepath.Join(dir, backupFilePattern))
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		if len(files) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no backup written after change")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
