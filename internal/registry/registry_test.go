package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]string
	deleted []string
	findErr error
}

func (f *fakeStore) FindBySourceIdentity(_ context.Context, identity string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return "", false, f.findErr
	}
	id, ok := f.docs[identity]
	return id, ok, nil
}

func (f *fakeStore) DeleteByDocID(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, docID)
	return nil
}

func TestBeginUpdate_NewDocument(t *testing.T) {
	r := New(&fakeStore{docs: map[string]string{}}, WithIDGenerator(func() string { return "fresh" }))

	u, err := r.BeginUpdate(context.Background(), "file://a.txt", "")
	require.NoError(t, err)
	assert.Equal(t, Update{DocID: "fresh"}, u)
}

func TestBeginUpdate_ExistingDocument(t *testing.T) {
	r := New(&fakeStore{docs: map[string]string{"file://a.txt": "d1"}})

	u, err := r.BeginUpdate(context.Background(), "file://a.txt", "ignored")
	require.NoError(t, err)
	assert.Equal(t, Update{DocID: "d1", IsUpdate: true}, u)
}

func TestBeginUpdate_PreferredID(t *testing.T) {
	r := New(&fakeStore{docs: map[string]string{}})

	u, err := r.BeginUpdate(context.Background(), "file://a.txt", "d-old")
	require.NoError(t, err)
	assert.Equal(t, Update{DocID: "d-old", IsUpdate: true}, u)
}

func TestBeginUpdate_MintsUUIDs(t *testing.T) {
	r := New(&fakeStore{docs: map[string]string{}})

	a, err := r.BeginUpdate(context.Background(), "x", "")
	require.NoError(t, err)
	b, err := r.BeginUpdate(context.Background(), "y", "")
	require.NoError(t, err)
	assert.Len(t, a.DocID, 36)
	assert.NotEqual(t, a.DocID, b.DocID)
}

func TestBeginUpdate_StoreError(t *testing.T) {
	boom := errors.New("boom")
	r := New(&fakeStore{findErr: boom})

	_, err := r.BeginUpdate(context.Background(), "x", "")
	assert.ErrorIs(t, err, boom)
}

func TestReplaceChunksAndDelete(t *testing.T) {
	s := &fakeStore{docs: map[string]string{}}
	r := New(s)

	require.NoError(t, r.ReplaceChunks(context.Background(), "d1"))
	require.NoError(t, r.Delete(context.Background(), "d2"))
	assert.Equal(t, []string{"d1", "d2"}, s.deleted)
}

func TestLock_SerializesSameIdentity(t *testing.T) {
	r := New(&fakeStore{})

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := r.Lock(context.Background(), "file://a.txt")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive.Load())
	assert.Equal(t, 0, r.locks.Len())
}

func TestLock_IndependentIdentities(t *testing.T) {
	r := New(&fakeStore{})

	unlockA, err := r.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := r.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLock_ContextCancelled(t *testing.T) {
	r := New(&fakeStore{})

	unlock, err := r.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, r.locks.Len())
}
