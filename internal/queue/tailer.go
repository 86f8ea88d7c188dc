package queue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Tailer follows the agent's JSONL event spool and enqueues each appended
// line as an event. The file is the integration point for tool-call hooks:
// anything that can append a line can produce billable telemetry.
type Tailer struct {
	path   string
	queue  *Queue
	offset int64
	logger *slog.Logger
}

// NewTailer creates a tailer for the spool at path. Existing content is
// skipped; only lines appended after Run starts are shipped.
func NewTailer(path string, q *Queue, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{path: path, queue: q, logger: logger}
}

// Run follows the spool until ctx is cancelled. The watch is on the parent
// directory so a spool created or rotated after startup is picked up.
func (t *Tailer) Run(ctx context.Context) error {
	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating spool watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watching spool directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != t.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := t.scan(); err != nil {
				t.logger.Warn("reading event spool failed", "path", t.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("spool watcher error", "error", err)
		}
	}
}

// scan reads lines appended since the last offset and enqueues them. A file
// smaller than the stored offset was truncated or rotated; reading restarts
// from the top.
func (t *Tailer) scan() error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < t.offset {
		t.offset = 0
	}
	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A trailing fragment without its newline is a write still in
			// flight; the offset stays put so the next scan rereads the whole
			// line once it is complete.
			return nil
		}
		if err != nil {
			return err
		}

		// The offset only ever advances past complete lines.
		t.offset += int64(len(line))
		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) == 0 {
			continue
		}

		var e protocol.Event
		if err := json.Unmarshal(line, &e); err != nil {
			t.logger.Warn("skipping malformed spool line", "error", err)
			continue
		}
		if e.Kind == "" {
			t.logger.Warn("skipping spool line without a kind")
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
		t.queue.Enqueue(e)
	}
}
