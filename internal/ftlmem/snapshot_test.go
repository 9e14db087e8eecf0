package ftlmem_test

import (
	"testing"

	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLocker is a [ftlmem.Locker] counting its calls.
type testLocker struct {
	acquires   int
	releases   int
	acquireErr error
}

// Acquire implements the [ftlmem.Locker] interface for *testLocker.
func (l *testLocker) Acquire() (err error) {
	l.acquires++

	return l.acquireErr
}

// Release implements the [ftlmem.Locker] interface for *testLocker.
func (l *testLocker) Release() (err error) {
	l.releases++

	return nil
}

// newTestMemory returns fixture data with one entry in each table.
func newTestMemory() (m *ftlmem.TestMemory) {
	return &ftlmem.TestMemory{
		Settings: ftlmem.Settings{Version: ftlmem.SchemaVersion},
		Counters: ftlmem.Counters{
			TotalQueries:   2,
			TotalClients:   1,
			TotalDomains:   1,
			TotalUpstreams: 1,
		},
		Queries: []ftlmem.Query{
			ftlmem.MakeQuery(1, 0, 1, ftlmem.QueryTypeA, ftlmem.StatusForward, 0, 0, 0, ftlmem.PrivacyShowAll),
			ftlmem.MakeQuery(2, 0, 2, ftlmem.QueryTypeA, ftlmem.StatusGravity, 0, 0, 0, ftlmem.PrivacyShowAll),
			// Allocated but not yet valid.
			{},
			{},
		},
		Clients:   []ftlmem.Client{ftlmem.MakeClient(2, 1, 2, 0)},
		Domains:   []ftlmem.Domain{ftlmem.MakeDomain(2, 1, 1, ftlmem.RegexUnknown)},
		Upstreams: []ftlmem.Upstream{ftlmem.MakeUpstream(1, 0, 3, 0)},
		Strings: map[int]string{
			1: "example.com",
			2: "127.0.0.1",
			3: "8.8.8.8",
		},
	}
}

func TestNewSnapshot(t *testing.T) {
	lock := &testLocker{}
	snap, err := ftlmem.NewSnapshot(lock, newTestMemory())
	require.NoError(t, err)

	qs, err := snap.Queries()
	require.NoError(t, err)

	// Bounded by the counters, not the allocation.
	assert.Len(t, qs, 2)

	cs, err := snap.Clients()
	require.NoError(t, err)
	require.Len(t, cs, 1)

	st, err := snap.Strings()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cs[0].IP(st))

	require.NoError(t, snap.Close())
	assert.Equal(t, 1, lock.acquires)
	assert.Equal(t, 1, lock.releases)
}

func TestNewSnapshot_versionMismatch(t *testing.T) {
	mem := newTestMemory()
	mem.Settings.Version = ftlmem.SchemaVersion + 1

	lock := &testLocker{}
	_, err := ftlmem.NewSnapshot(lock, mem)
	assert.ErrorIs(t, err, ftlmem.ErrSchemaVersion)

	// The lock must not leak when the snapshot is refused.
	assert.Equal(t, 1, lock.acquires)
	assert.Equal(t, 1, lock.releases)
}

func TestNewSnapshot_lockError(t *testing.T) {
	lock := &testLocker{acquireErr: assert.AnError}
	_, err := ftlmem.NewSnapshot(lock, newTestMemory())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, lock.releases)
}

func TestSnapshot_countersOutsideAllocation(t *testing.T) {
	mem := newTestMemory()
	mem.Counters.TotalQueries = int32(len(mem.Queries)) + 1

	lock := &testLocker{}
	snap, err := ftlmem.NewSnapshot(lock, mem)
	require.NoError(t, err)
	defer func() { require.NoError(t, snap.Close()) }()

	_, err = snap.Queries()
	assert.ErrorIs(t, err, ftlmem.ErrSegment)
}

func TestSnapshot_closedAccess(t *testing.T) {
	lock := &testLocker{}
	snap, err := ftlmem.NewSnapshot(lock, newTestMemory())
	require.NoError(t, err)

	require.NoError(t, snap.Close())

	// Closing again must not release the lock twice.
	require.NoError(t, snap.Close())
	assert.Equal(t, 1, lock.releases)

	_, err = snap.Queries()
	assert.ErrorIs(t, err, ftlmem.ErrSnapshotClosed)

	_, err = snap.Strings()
	assert.ErrorIs(t, err, ftlmem.ErrSnapshotClosed)
}
