// Package configsync keeps the agent's local skill-config file and the
// remote config store consistent. Two independent paths feed one
// reconciliation state: a file watcher that pushes local edits up, and a
// poller that applies newer remote writes down. On conflict the local file
// wins — the poller only ever advances past timestamps it has itself applied,
// so an older remote write can never clobber a fresh local edit.
package configsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
	"github.com/fsnotify/fsnotify"
)

// Remote is the control-plane slice the syncer needs. *transport.Client
// satisfies it.
type Remote interface {
	GetConfigs(ctx context.Context) ([]protocol.SkillConfig, error)
	PutConfig(ctx context.Context, slug string, req protocol.PutConfigRequest) (protocol.SkillConfig, error)
	AckConfig(ctx context.Context, slug string) error
}

// localFile is the on-disk layout: one JSON document holding every skill's
// config block with its own timestamp.
type localFile struct {
	Skills map[string]localSkill `json:"skills"`
}

type localSkill struct {
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Syncer reconciles the file at path with the remote store.
type Syncer struct {
	path         string
	remote       Remote
	pollInterval time.Duration
	logger       *slog.Logger

	paused      atomic.Bool
	pendingPush atomic.Bool

	mu          sync.Mutex
	lastHash    string
	lastApplied time.Time
}

// New creates a syncer for the skill-config file at path.
func New(path string, remote Remote, pollInterval time.Duration, logger *slog.Logger) *Syncer {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		path:         path,
		remote:       remote,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Pause defers pushes of local edits; config writes are chargeable, so a
// capped agent holds them back. An edit made while paused is pushed on the
// first poll tick after Resume. Applying remote configs keeps running either
// way, since reads are free.
func (s *Syncer) Pause() { s.paused.Store(true) }

// Resume re-enables pushes of local edits.
func (s *Syncer) Resume() { s.paused.Store(false) }

// WatchLocal pushes local edits to the remote store until ctx is cancelled.
// The watch covers the parent directory so editors that replace the file
// (write-to-temp-and-rename) are still seen.
func (s *Syncer) WatchLocal(ctx context.Context) error {
	// Seed the hash so startup does not re-push an unchanged file.
	if data, err := os.ReadFile(s.path); err == nil {
		s.mu.Lock()
		s.lastHash = contentHash(data)
		s.mu.Unlock()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if err := s.PushLocal(ctx); err != nil {
				s.logger.Warn("pushing local config edit failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}

// PushLocal pushes every skill block to the remote store when the file's
// content hash has changed since the last push or applied write. Unchanged
// files are a no-op, which is what keeps the poller's own writes from
// echoing back up.
func (s *Syncer) PushLocal(ctx context.Context) error {
	if s.paused.Load() {
		s.pendingPush.Store(true)
		s.logger.Info("local config edit held back while paused")
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	hash := contentHash(data)
	s.mu.Lock()
	unchanged := hash == s.lastHash
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	var file localFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	for skill, block := range file.Skills {
		if _, err := s.remote.PutConfig(ctx, skill, protocol.PutConfigRequest{
			Config: block.Config,
			Source: protocol.SourceManual,
		}); err != nil {
			return fmt.Errorf("pushing config for %s: %w", skill, err)
		}
		s.logger.Info("pushed local config edit", "skill", skill)
	}

	s.mu.Lock()
	s.lastHash = hash
	s.mu.Unlock()
	return nil
}

// Poll applies remote writes on the interval until ctx is cancelled. It is
// the fallback path for deployments without push notification from the
// control plane.
func (s *Syncer) Poll(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.paused.Load() && s.pendingPush.Swap(false) {
				if err := s.PushLocal(ctx); err != nil {
					s.pendingPush.Store(true)
					s.logger.Warn("pushing held-back config edit failed", "error", err)
				}
			}
			if err := s.PollOnce(ctx); err != nil {
				s.logger.Warn("config poll failed", "error", err)
			}
		}
	}
}

// PollOnce fetches remote configs and applies the ones newer than the last
// timestamp this syncer itself applied. Each apply is verified by reading the
// file back before it is acknowledged and the timestamp advances.
func (s *Syncer) PollOnce(ctx context.Context) error {
	configs, err := s.remote.GetConfigs(ctx)
	if err != nil {
		return fmt.Errorf("fetching remote configs: %w", err)
	}

	s.mu.Lock()
	lastApplied := s.lastApplied
	s.mu.Unlock()

	for _, cfg := range configs {
		if cfg.SyncStatus == protocol.ConfigStatusApplied {
			continue
		}
		if !cfg.UpdatedAt.After(lastApplied) {
			continue
		}

		if err := s.applyLocal(cfg); err != nil {
			s.logger.Warn("applying remote config failed", "skill", cfg.Skill, "error", err)
			continue
		}
		if err := s.remote.AckConfig(ctx, cfg.Skill); err != nil {
			s.logger.Warn("acknowledging applied config failed", "skill", cfg.Skill, "error", err)
			// The local write stands; the next poll re-acks.
		}

		s.mu.Lock()
		if cfg.UpdatedAt.After(s.lastApplied) {
			s.lastApplied = cfg.UpdatedAt
		}
		s.mu.Unlock()
		s.logger.Info("applied remote config", "skill", cfg.Skill, "updated_at", cfg.UpdatedAt)
	}
	return nil
}

// applyLocal writes one skill's config into the local file and verifies the
// write by reading it back and comparing the stored block against the remote
// one.
func (s *Syncer) applyLocal(cfg protocol.SkillConfig) error {
	file, err := s.load()
	if err != nil {
		return err
	}

	want, err := canonical(cfg.Config)
	if err != nil {
		return fmt.Errorf("remote config for %s is not valid JSON: %w", cfg.Skill, err)
	}
	file.Skills[cfg.Skill] = localSkill{Config: want, UpdatedAt: cfg.UpdatedAt}

	if err := s.save(file); err != nil {
		return err
	}

	// Read-back verification: the apply only counts if the file now holds
	// exactly what the remote sent.
	reread, err := s.load()
	if err != nil {
		return fmt.Errorf("re-reading config file: %w", err)
	}
	got, err := canonical(reread.Skills[cfg.Skill].Config)
	if err != nil || !bytes.Equal(got, want) {
		return fmt.Errorf("read-back verification failed for %s", cfg.Skill)
	}
	return nil
}

// load reads the local file, treating a missing file as empty.
func (s *Syncer) load() (*localFile, error) {
	file := &localFile{Skills: make(map[string]localSkill)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if file.Skills == nil {
		file.Skills = make(map[string]localSkill)
	}
	return file, nil
}

// save writes the local file and records its hash so the watcher does not
// push the syncer's own write back up.
func (s *Syncer) save(file *localFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	s.mu.Lock()
	s.lastHash = contentHash(data)
	s.mu.Unlock()
	return nil
}

// canonical compacts a JSON value so byte comparison ignores formatting
// introduced by the file's indentation.
func canonical(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
