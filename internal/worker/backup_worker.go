// Package worker implements the backup worker. It listens for ledger change
// messages, debounces them, and writes rolling backup documents to disk.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"tally/internal/amqp"
	"tally/internal/backup"
	"tally/internal/storage"
)

const backupFilePattern = "ledger-*.json"

// BackupWorker writes rolling JSON backups of the ledger. Changes are
// coalesced: a burst of messages produces a single backup once the
// debounce window closes.
type BackupWorker struct {
	store    storage.Reader
	dir      string
	keep     int
	debounce time.Duration
	now      func() time.Time

	dirty chan struct{}
}

func NewBackupWorker(store storage.Reader, dir string, keep int, debounce time.Duration) *BackupWorker {
	return &BackupWorker{
		store:    store,
		dir:      dir,
		keep:     keep,
		debounce: debounce,
		now:      time.Now,
		dirty:    make(chan struct{}, 1),
	}
}

// HandleChangeMessage processes a single ledger change message from AMQP.
// The message content does not matter; any change schedules the next backup.
func (w *BackupWorker) HandleChangeMessage(ctx context.Context, msg *amqp.LedgerChangeMessage) error {
	slog.InfoContext(ctx, "Ledger changed, scheduling backup",
		"entity", msg.Entity,
		"op", msg.Op,
		"id", msg.ID)
	w.MarkDirty()
	return nil
}

// MarkDirty schedules a backup. Safe to call from any goroutine; repeated
// calls within one debounce window coalesce into a single write.
func (w *BackupWorker) MarkDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Run writes backups until the context is cancelled. A backup is written
// after each debounce window that saw at least one change, and at every
// interval tick as a fallback for missed messages.
func (w *BackupWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping backup worker", "reason", ctx.Err())
			return ctx.Err()
		case <-w.dirty:
			if err := w.sleepDebounce(ctx); err != nil {
				return err
			}
			// Drain changes that arrived during the window.
			select {
			case <-w.dirty:
			default:
			}
			if _, err := w.WriteBackup(ctx); err != nil {
				slog.ErrorContext(ctx, "Failed to write backup", "error", err)
			}
		case <-ticker.C:
			if _, err := w.WriteBackup(ctx); err != nil {
				slog.ErrorContext(ctx, "Failed to write periodic backup", "error", err)
			}
		}
	}
}

func (w *BackupWorker) sleepDebounce(ctx context.Context) error {
	if w.debounce <= 0 {
		return nil
	}
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WriteBackup exports the ledger to a new timestamped file in the backup
// directory and prunes old files beyond the keep limit.
func (w *BackupWorker) WriteBackup(ctx context.Context) (string, error) {
	doc, err := backup.Export(ctx, w.store, w.now())
	if err != nil {
		return "", fmt.Errorf("export ledger: %w", err)
	}
	data, err := backup.Encode(doc)
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("ledger-%s.json", w.now().Format("20060102-150405.000"))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}

	slog.InfoContext(ctx, "Backup written",
		"path", path,
		"friends", len(doc.Friends),
		"transactions", len(doc.Transactions))

	if err := w.prune(); err != nil {
		slog.WarnContext(ctx, "Failed to prune old backups", "error", err)
	}
	return path, nil
}

// prune removes the oldest backup files beyond the keep limit.
func (w *BackupWorker) prune() error {
	if w.keep <= 0 {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(w.dir, backupFilePattern))
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(files) <= w.keep {
		return nil
	}
	// File names embed the timestamp, so lexical order is age order.
	sort.Strings(files)
	for _, stale := range files[:len(files)-w.keep] {
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("remove stale backup %s: %w", stale, err)
		}
	}
	return nil
}
