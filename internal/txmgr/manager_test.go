package txmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dereksmith/semem/internal/semerr"
)

type fakeUpdater struct {
	updates []string
	failOn  string
}

func (f *fakeUpdater) Update(ctx context.Context, update string) error {
	f.updates = append(f.updates, update)
	if f.failOn != "" && strings.Contains(update, f.failOn) {
		return errors.New("boom")
	}
	return nil
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) InvalidateAll() { f.calls++ }

type fakeChecker struct{ stale bool }

func (f *fakeChecker) GraphNonEmpty(ctx context.Context, iri string) (bool, error) {
	return f.stale, nil
}

func TestBeginCommit(t *testing.T) {
	u := &fakeUpdater{}
	inv := &fakeInvalidator{}
	m := New(u, nil, inv, nil)

	tx, err := m.Begin(context.Background(), "urn:main")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, tx.State)
	assert.Equal(t, "urn:main/__tx__backup", tx.BackupGraphIRI)

	require.NoError(t, m.Commit(context.Background()))
	assert.False(t, m.IsOpen())
	assert.Contains(t, u.updates[0], "COPY <urn:main> TO")
	assert.Contains(t, u.updates[1], "DROP GRAPH")
}

func TestBeginRejectsConcurrentOpen(t *testing.T) {
	u := &fakeUpdater{}
	m := New(u, nil, nil, nil)

	_, err := m.Begin(context.Background(), "urn:main")
	require.NoError(t, err)

	_, err = m.Begin(context.Background(), "urn:main")
	assert.True(t, semerr.Is(err, semerr.KindTransactionBusy))
}

func TestBeginRejectsStaleBackup(t *testing.T) {
	u := &fakeUpdater{}
	m := New(u, &fakeChecker{stale: true}, nil, nil)

	_, err := m.Begin(context.Background(), "urn:main")
	assert.True(t, semerr.Is(err, semerr.KindStaleBackup))
}

func TestRollbackInvalidatesCache(t *testing.T) {
	u := &fakeUpdater{}
	inv := &fakeInvalidator{}
	m := New(u, nil, inv, nil)

	_, err := m.Begin(context.Background(), "urn:main")
	require.NoError(t, err)

	require.NoError(t, m.Rollback(context.Background()))
	assert.Equal(t, 1, inv.calls)
	assert.Contains(t, u.updates[1], "MOVE <urn:main/__tx__backup> TO <urn:main>")
	assert.False(t, m.IsOpen())
}

func TestCommitWithoutBeginFails(t *testing.T) {
	m := New(&fakeUpdater{}, nil, nil, nil)
	err := m.Commit(context.Background())
	assert.Error(t, err)
}

func TestRollbackWithoutBeginFails(t *testing.T) {
	m := New(&fakeUpdater{}, nil, nil, nil)
	err := m.Rollback(context.Background())
	assert.Error(t, err)
}
