package configsync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// fakeRemote is an in-memory config store standing in for the control plane.
type fakeRemote struct {
	configs []protocol.SkillConfig
	puts    map[string]protocol.PutConfigRequest
	acks    []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{puts: make(map[string]protocol.PutConfigRequest)}
}

func (f *fakeRemote) GetConfigs(ctx context.Context) ([]protocol.SkillConfig, error) {
	return f.configs, nil
}

func (f *fakeRemote) PutConfig(ctx context.Context, slug string, req protocol.PutConfigRequest) (protocol.SkillConfig, error) {
	f.puts[slug] = req
	return protocol.SkillConfig{Skill: slug, Config: req.Config, Source: req.Source}, nil
}

func (f *fakeRemote) AckConfig(ctx context.Context, slug string) error {
	f.acks = append(f.acks, slug)
	return nil
}

func writeLocal(t *testing.T, path string, skills map[string]localSkill) {
	t.Helper()
	data, err := json.MarshalIndent(localFile{Skills: skills}, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPushLocalOnContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	writeLocal(t, path, map[string]localSkill{
		"weather": {Config: json.RawMessage(`{"units":"metric"}`), UpdatedAt: time.Now().UTC()},
	})

	remote := newFakeRemote()
	s := New(path, remote, time.Minute, nil)

	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatalf("PushLocal: %v", err)
	}
	put, ok := remote.puts["weather"]
	if !ok {
		t.Fatal("weather config not pushed")
	}
	if put.Source != protocol.SourceManual {
		t.Errorf("source = %q, want %q", put.Source, protocol.SourceManual)
	}

	// An unchanged file is a no-op.
	delete(remote.puts, "weather")
	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatalf("PushLocal: %v", err)
	}
	if len(remote.puts) != 0 {
		t.Error("unchanged file was pushed again")
	}

	// An edit pushes again.
	writeLocal(t, path, map[string]localSkill{
		"weather": {Config: json.RawMessage(`{"units":"imperial"}`), UpdatedAt: time.Now().UTC()},
	})
	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatalf("PushLocal: %v", err)
	}
	if _, ok := remote.puts["weather"]; !ok {
		t.Error("edited file not pushed")
	}
}

func TestPollAppliesNewerRemoteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	remote := newFakeRemote()
	remote.configs = []protocol.SkillConfig{{
		Skill:      "weather",
		Config:     json.RawMessage(`{"units":"metric","cache":true}`),
		Source:     protocol.SourceDashboard,
		SyncStatus: protocol.ConfigStatusPending,
		UpdatedAt:  time.Now().UTC(),
	}}

	s := New(path, remote, time.Minute, nil)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	file, err := s.load()
	if err != nil {
		t.Fatal(err)
	}
	got, err := canonical(file.Skills["weather"].Config)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"units":"metric","cache":true}` {
		t.Errorf("local config = %s", got)
	}
	if len(remote.acks) != 1 || remote.acks[0] != "weather" {
		t.Errorf("acks = %v, want [weather]", remote.acks)
	}
}

func TestPollSkipsAppliedStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	remote := newFakeRemote()
	remote.configs = []protocol.SkillConfig{{
		Skill:      "weather",
		Config:     json.RawMessage(`{"units":"metric"}`),
		SyncStatus: protocol.ConfigStatusApplied,
		UpdatedAt:  time.Now().UTC(),
	}}

	s := New(path, remote, time.Minute, nil)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("applied config caused a local write")
	}
	if len(remote.acks) != 0 {
		t.Errorf("acks = %v, want none", remote.acks)
	}
}

func TestPollSkipsOlderThanLastApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	remote := newFakeRemote()
	newest := time.Now().UTC()
	remote.configs = []protocol.SkillConfig{{
		Skill:      "weather",
		Config:     json.RawMessage(`{"v":1}`),
		SyncStatus: protocol.ConfigStatusPending,
		UpdatedAt:  newest,
	}}

	s := New(path, remote, time.Minute, nil)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The local file moves on; a stale pending remote row (equal or older
	// timestamp) must never clobber it.
	writeLocal(t, path, map[string]localSkill{
		"weather": {Config: json.RawMessage(`{"v":"local-edit"}`), UpdatedAt: newest.Add(time.Second)},
	})
	remote.configs[0].Config = json.RawMessage(`{"v":"stale"}`)
	remote.configs[0].UpdatedAt = newest.Add(-time.Hour)

	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	file, err := s.load()
	if err != nil {
		t.Fatal(err)
	}
	got, _ := canonical(file.Skills["weather"].Config)
	if string(got) != `{"v":"local-edit"}` {
		t.Errorf("local config = %s, want the local edit preserved", got)
	}
}

func TestPollAdvancesLastApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	remote := newFakeRemote()
	first := time.Now().UTC().Add(-time.Minute)
	remote.configs = []protocol.SkillConfig{{
		Skill:      "weather",
		Config:     json.RawMessage(`{"v":1}`),
		SyncStatus: protocol.ConfigStatusPending,
		UpdatedAt:  first,
	}}

	s := New(path, remote, time.Minute, nil)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same row still pending (ack lost, say): no second apply.
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(remote.acks) != 1 {
		t.Errorf("acks = %v, want exactly one", remote.acks)
	}

	// A genuinely newer write applies.
	remote.configs[0].Config = json.RawMessage(`{"v":2}`)
	remote.configs[0].UpdatedAt = first.Add(time.Minute)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	file, err := s.load()
	if err != nil {
		t.Fatal(err)
	}
	got, _ := canonical(file.Skills["weather"].Config)
	if string(got) != `{"v":2}` {
		t.Errorf("local config = %s, want v2", got)
	}
}

func TestPausedSyncerHoldsPushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	writeLocal(t, path, map[string]localSkill{
		"weather": {Config: json.RawMessage(`{"units":"metric"}`), UpdatedAt: time.Now().UTC()},
	})

	remote := newFakeRemote()
	s := New(path, remote, time.Minute, nil)
	s.Pause()

	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatalf("PushLocal: %v", err)
	}
	if len(remote.puts) != 0 {
		t.Fatalf("paused syncer pushed %v", remote.puts)
	}
	if !s.pendingPush.Load() {
		t.Error("held-back edit not marked pending")
	}

	// After resume the held-back edit goes up.
	s.Resume()
	if !s.pendingPush.Swap(false) {
		t.Fatal("pending flag cleared before the retry ran")
	}
	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatalf("PushLocal after resume: %v", err)
	}
	if _, ok := remote.puts["weather"]; !ok {
		t.Error("held-back edit not pushed after resume")
	}
}

func TestOwnWriteDoesNotEchoBackUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.json")
	remote := newFakeRemote()
	remote.configs = []protocol.SkillConfig{{
		Skill:      "weather",
		Config:     json.RawMessage(`{"units":"metric"}`),
		SyncStatus: protocol.ConfigStatusPending,
		UpdatedAt:  time.Now().UTC(),
	}}

	s := New(path, remote, time.Minute, nil)
	if err := s.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The file the poller just wrote hashes as already-pushed.
	if err := s.PushLocal(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(remote.puts) != 0 {
		t.Errorf("poller's own write was pushed back up: %v", remote.puts)
	}
}
