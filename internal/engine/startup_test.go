package engine

import (
	"context"
	"io"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Embed(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// remoteEngine has no model management.
type remoteEngine struct{ running bool }

func (r remoteEngine) Embed(_ context.Context, _ string, _ []string) ([][]float32, error) {
	return nil, nil
}
func (r remoteEngine) IsRunning(_ context.Context) bool { return r.running }

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"nomic-embed-text": true}}
	if err := EnsureReady(context.Background(), m, "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("expected pull of nomic-embed-text, got %v", m.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "nomic-embed-text", io.Discard); err == nil {
		t.Fatal("expected error when engine is down")
	}
}

func TestEnsureReady_SkipsPullWithoutModelManager(t *testing.T) {
	if err := EnsureReady(context.Background(), remoteEngine{running: true}, "text-embedding-3-large", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
}
