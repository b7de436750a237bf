package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fluidmcp/gateway/internal/model"
	"github.com/fluidmcp/gateway/internal/store"
)

func TestServerCRUDRoundTrip(t *testing.T) {
	s := New(100)
	ctx := context.Background()

	cfg := model.ServerConfig{ID: "mem", Name: "Memory", Command: "npx", Enabled: true}
	if err := s.SaveServer(ctx, cfg); err != nil {
		t.Fatalf("SaveServer: %v", err)
	}

	got, err := s.GetServer(ctx, "mem")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if got.Name != "Memory" || got.Command != "npx" {
		t.Errorf("GetServer = %+v", got)
	}

	if err := s.DeleteServer(ctx, "mem"); err != nil {
		t.Fatalf("DeleteServer: %v", err)
	}
	if _, err := s.GetServer(ctx, "mem"); err != store.ErrNotFound {
		t.Errorf("GetServer after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteServer(ctx, "mem"); err != store.ErrNotFound {
		t.Errorf("second DeleteServer = %v, want ErrNotFound", err)
	}
}

func TestListServers_EnabledOnly(t *testing.T) {
	s := New(100)
	ctx := context.Background()
	_ = s.SaveServer(ctx, model.ServerConfig{ID: "on", Enabled: true})
	_ = s.SaveServer(ctx, model.ServerConfig{ID: "off", Enabled: false})

	all, _ := s.ListServers(ctx, false)
	if len(all) != 2 {
		t.Errorf("ListServers(false) = %d entries, want 2", len(all))
	}

	enabled, _ := s.ListServers(ctx, true)
	if len(enabled) != 1 || enabled[0].ID != "on" {
		t.Errorf("ListServers(true) = %v, want only the enabled one", enabled)
	}
}

func TestSaveInstance_CheckAndSet(t *testing.T) {
	s := New(100)
	ctx := context.Background()

	fresh := model.ServerInstance{ServerID: "mem", State: model.StateRunning, PID: 200}
	if err := s.SaveInstance(ctx, fresh, nil); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	// A stale writer from the crashed pid-100 child must not clobber the
	// freshly restarted pid-200 record.
	stalePID := 100
	stale := model.ServerInstance{ServerID: "mem", State: model.StateFailed, PID: 100}
	if err := s.SaveInstance(ctx, stale, &stalePID); err != nil {
		t.Fatalf("SaveInstance (stale): %v", err)
	}

	got, err := s.GetInstance(ctx, "mem")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.PID != 200 || got.State != model.StateRunning {
		t.Errorf("stale writer clobbered the instance: %+v", got)
	}

	// A matching expected pid applies normally.
	currentPID := 200
	update := model.ServerInstance{ServerID: "mem", State: model.StateStopping, PID: 200}
	if err := s.SaveInstance(ctx, update, &currentPID); err != nil {
		t.Fatalf("SaveInstance (matching): %v", err)
	}
	got, _ = s.GetInstance(ctx, "mem")
	if got.State != model.StateStopping {
		t.Errorf("matching check-and-set did not apply: %+v", got)
	}
}

func TestModelLifecycle(t *testing.T) {
	s := New(100)
	ctx := context.Background()

	m := model.LLMModel{ModelID: "llama3", Type: model.LLMOllama}
	if err := s.SaveModel(ctx, m); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	if err := s.SaveModel(ctx, m); err != store.ErrConflict {
		t.Errorf("duplicate SaveModel = %v, want ErrConflict", err)
	}

	got, err := s.GetModel(ctx, "llama3")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version after create = %d, want 1", got.Version)
	}

	if err := s.UpdateModel(ctx, "llama3", func(m *model.LLMModel) {
		m.TimeoutSec = 60
	}); err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}
	got, _ = s.GetModel(ctx, "llama3")
	if got.TimeoutSec != 60 {
		t.Errorf("TimeoutSec = %d after update, want 60", got.TimeoutSec)
	}
	if got.Version != 2 {
		t.Errorf("Version after update = %d, want monotonically increased to 2", got.Version)
	}

	if err := s.DeleteModel(ctx, "llama3"); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if _, err := s.GetModel(ctx, "llama3"); err != store.ErrNotFound {
		t.Errorf("GetModel after delete = %v, want ErrNotFound", err)
	}
}

func TestListModels_TypeFilter(t *testing.T) {
	s := New(100)
	ctx := context.Background()
	_ = s.SaveModel(ctx, model.LLMModel{ModelID: "a", Type: model.LLMOllama})
	_ = s.SaveModel(ctx, model.LLMModel{ModelID: "b", Type: model.LLMReplicate})

	got, _ := s.ListModels(ctx, model.LLMReplicate)
	if len(got) != 1 || got[0].ModelID != "b" {
		t.Errorf("ListModels(replicate) = %v", got)
	}
}

func TestLogTailCapped(t *testing.T) {
	s := New(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.AppendLog(ctx, model.LogEntry{
			ServerID:  "mem",
			Timestamp: time.Now(),
			Stream:    model.StreamStderr,
			Content:   string(rune('a' + i)),
		})
	}

	got, err := s.TailLogs(ctx, "mem", 10)
	if err != nil {
		t.Fatalf("TailLogs: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("TailLogs returned %d entries, want capped at 3", len(got))
	}
	if got[0].Content != "c" || got[2].Content != "e" {
		t.Errorf("expected the newest entries kept, got %v", got)
	}
}

func TestTailLogs_FiltersByServer(t *testing.T) {
	s := New(100)
	ctx := context.Background()
	_ = s.AppendLog(ctx, model.LogEntry{ServerID: "a", Content: "from a"})
	_ = s.AppendLog(ctx, model.LogEntry{ServerID: "b", Content: "from b"})

	got, _ := s.TailLogs(ctx, "a", 10)
	if len(got) != 1 || got[0].Content != "from a" {
		t.Errorf("TailLogs(a) = %v, want only server a's entries", got)
	}
}
