package embedding

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, texts []string) ([][]float32, error)
}

func (m *mockEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, model, texts)
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return true }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i+1) * 0.001
	}
	return v
}

func fixedEngine(dim int) *mockEngine {
	return &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = makeVector(dim)
			}
			return out, nil
		},
	}
}

func TestExpand_TilesAndPads(t *testing.T) {
	got, err := Expand([]float32{1, 2}, 5)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []float32{1, 2, 1, 2, 0}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExpand_Properties(t *testing.T) {
	for _, tc := range []struct{ d, target int }{{1, 7}, {3, 3}, {3, 10}, {768, 3072}, {384, 1000}} {
		native := makeVector(tc.d)
		out, err := Expand(native, tc.target)
		if err != nil {
			t.Fatalf("Expand(%d, %d): %v", tc.d, tc.target, err)
		}
		if len(out) != tc.target {
			t.Fatalf("len = %d, want %d", len(out), tc.target)
		}
		r := tc.target / tc.d
		for i := 0; i < tc.target; i++ {
			want := float32(0)
			if i < r*tc.d {
				want = native[i%tc.d]
			}
			if out[i] != want {
				t.Fatalf("d=%d target=%d: out[%d] = %v, want %v", tc.d, tc.target, i, out[i], want)
			}
		}
	}
}

func TestExpand_RejectsWiderNative(t *testing.T) {
	if _, err := Expand(makeVector(10), 4); err == nil {
		t.Fatal("expected error when native dimension exceeds target")
	}
}

func TestEmbed_ExpandsToTarget(t *testing.T) {
	a := NewAdapter(fixedEngine(768), "all-mpnet-base-v2", Options{TargetDim: 3072})

	vecs, err := a.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != 3072 {
			t.Errorf("got %d dimensions, want 3072", len(v))
		}
	}
}

func TestEmbed_NativePassthrough(t *testing.T) {
	a := NewAdapter(fixedEngine(384), "nomic-embed-text", Options{})

	vec, err := a.EmbedQuery(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
	d, err := a.Dimension(context.Background())
	if err != nil {
		t.Fatalf("Dimension: %v", err)
	}
	if d != 384 {
		t.Errorf("Dimension = %d, want 384", d)
	}
}

func TestEmbed_PreservesOrderAcrossBatches(t *testing.T) {
	var calls atomic.Int32
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			calls.Add(1)
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i] = []float32{float32(len(text))}
			}
			return out, nil
		},
	}
	a := NewAdapter(mock, "m", Options{BatchSize: 2, Concurrency: 3})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := a.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("engine called %d times, want 3", calls.Load())
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want %d", i, vecs[i], len(text))
		}
	}
}

func TestEmbed_EngineErrorIsTyped(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			if texts[0] == "b" {
				return nil, errors.New("connection refused")
			}
			return [][]float32{makeVector(4)}, nil
		},
	}
	a := NewAdapter(mock, "nomic-embed-text", Options{BatchSize: 1})

	vecs, err := a.Embed(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if vecs != nil {
		t.Errorf("got partial result %v, want nil", vecs)
	}
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbed_InconsistentNativeDims(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			return [][]float32{makeVector(3), makeVector(4)}, nil
		},
	}
	a := NewAdapter(mock, "m", Options{TargetDim: 8})

	_, err := a.Embed(context.Background(), []string{"a", "b"})
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestEmbed_NativeWiderThanTarget(t *testing.T) {
	a := NewAdapter(fixedEngine(1024), "m", Options{TargetDim: 768})

	_, err := a.Embed(context.Background(), []string{"a"})
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	a := NewAdapter(mock, "nomic-embed-text", Options{})

	vecs, err := a.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}
