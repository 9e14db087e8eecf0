package querydb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for store calls.
const testTimeout = 1 * time.Second

func TestBuildQuery(t *testing.T) {
	qtA := ftlmem.QueryTypeA
	stForward := ftlmem.StatusForward
	blocked := true

	testCases := []struct {
		query    *history.StoreQuery
		name     string
		wantSQL  string
		wantArgs []any
	}{{
		query:    &history.StoreQuery{Limit: 10},
		name:     "plain",
		wantSQL:  `SELECT id, timestamp, type, status, domain, client, forward FROM queries ORDER BY id DESC LIMIT ?`,
		wantArgs: []any{11},
	}, {
		query: &history.StoreQuery{StartID: 94, From: 100, Until: 200, Limit: 10},
		name:  "window",
		wantSQL: `SELECT id, timestamp, type, status, domain, client, forward FROM queries ` +
			`WHERE id <= ? AND timestamp >= ? AND timestamp <= ? ORDER BY id DESC LIMIT ?`,
		wantArgs: []any{int64(94), int64(100), int64(200), 11},
	}, {
		query: &history.StoreQuery{Domain: "example", Client: "127.", Upstream: "8.8", Limit: 5},
		name:  "substrings",
		wantSQL: `SELECT id, timestamp, type, status, domain, client, forward FROM queries ` +
			`WHERE domain LIKE ? AND client LIKE ? AND forward LIKE ? ORDER BY id DESC LIMIT ?`,
		wantArgs: []any{"%example%", "%127.%", "%8.8%", 6},
	}, {
		query: &history.StoreQuery{QueryType: &qtA, Status: &stForward, Limit: 5},
		name:  "enums",
		wantSQL: `SELECT id, timestamp, type, status, domain, client, forward FROM queries ` +
			`WHERE type = ? AND status = ? ORDER BY id DESC LIMIT ?`,
		wantArgs: []any{1, 2, 6},
	}, {
		query: &history.StoreQuery{Blocked: &blocked, Limit: 5},
		name:  "blocked",
		wantSQL: `SELECT id, timestamp, type, status, domain, client, forward FROM queries ` +
			`WHERE status IN (?, ?, ?, ?) ORDER BY id DESC LIMIT ?`,
		wantArgs: []any{1, 4, 5, 6, 6},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotSQL, gotArgs := buildQuery(tc.query)
			assert.Equal(t, tc.wantSQL, gotSQL)
			assert.Equal(t, tc.wantArgs, gotArgs)
		})
	}
}

// newTestDB writes a resolver-shaped database and returns a read-only store
// over it.
func newTestDB(t *testing.T) (s *Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pihole-FTL.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE queries (
		id INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		type INTEGER NOT NULL,
		status INTEGER NOT NULL,
		domain TEXT NOT NULL,
		client TEXT NOT NULL,
		forward TEXT
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO queries VALUES
		(90, 1000, 1, 2, 'a.example.com', '127.0.0.1', '8.8.8.8'),
		(91, 1010, 2, 2, 'b.example.com', '127.0.0.1', '8.8.4.4'),
		(92, 1020, 1, 1, 'ads.example.org', '10.0.0.2', NULL),
		(93, 1030, 1, 3, 'c.example.com', '127.0.0.1', NULL),
		(94, 1040, 1, 2, 'd.example.com', '10.0.0.2', '8.8.8.8')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err = New(&Config{
		Logger: slogutil.NewDiscardLogger(),
		Path:   path,
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	return s
}

// rowIDs extracts the row ids of rows.
func rowIDs(rows []history.StoreRecord) (ids []int64) {
	ids = make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.RowID)
	}

	return ids
}

func TestStore_Search(t *testing.T) {
	s := newTestDB(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	rows, nextID, err := s.Search(ctx, &history.StoreQuery{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, []int64{94, 93, 92, 91, 90}, rowIDs(rows))
	assert.Zero(t, nextID)

	require.Len(t, rows, 5)
	assert.Equal(t, "d.example.com", rows[0].Domain)
	assert.Equal(t, ftlmem.QueryTypeA, rows[0].Type)
	assert.Equal(t, "8.8.8.8", rows[0].Upstream)
	assert.Equal(t, ftlmem.QueryTypeAAAA, rows[3].Type)

	// NULL forward scans to the empty string.
	assert.Empty(t, rows[1].Upstream)
}

func TestStore_Search_paging(t *testing.T) {
	s := newTestDB(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	rows, nextID, err := s.Search(ctx, &history.StoreQuery{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{94, 93}, rowIDs(rows))
	assert.EqualValues(t, 92, nextID)

	rows, nextID, err = s.Search(ctx, &history.StoreQuery{StartID: nextID, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{92, 91}, rowIDs(rows))
	assert.EqualValues(t, 90, nextID)

	rows, nextID, err = s.Search(ctx, &history.StoreQuery{StartID: nextID, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, []int64{90}, rowIDs(rows))
	assert.Zero(t, nextID)
}

func TestStore_Search_filters(t *testing.T) {
	s := newTestDB(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	qtA := ftlmem.QueryTypeA
	stCache := ftlmem.StatusCache
	blocked := true
	permitted := false

	testCases := []struct {
		query *history.StoreQuery
		name  string
		want  []int64
	}{{
		query: &history.StoreQuery{Domain: "example.com", Limit: 10},
		name:  "domain",
		want:  []int64{94, 93, 91, 90},
	}, {
		query: &history.StoreQuery{Client: "10.0.0", Limit: 10},
		name:  "client",
		want:  []int64{94, 92},
	}, {
		query: &history.StoreQuery{Upstream: "8.8.4", Limit: 10},
		name:  "upstream",
		want:  []int64{91},
	}, {
		query: &history.StoreQuery{QueryType: &qtA, Limit: 10},
		name:  "query_type",
		want:  []int64{94, 93, 92, 90},
	}, {
		query: &history.StoreQuery{Status: &stCache, Limit: 10},
		name:  "status",
		want:  []int64{93},
	}, {
		query: &history.StoreQuery{Blocked: &blocked, Limit: 10},
		name:  "blocked",
		want:  []int64{92},
	}, {
		query: &history.StoreQuery{Blocked: &permitted, Limit: 10},
		name:  "permitted",
		want:  []int64{94, 93, 91, 90},
	}, {
		query: &history.StoreQuery{From: 1010, Until: 1030, Limit: 10},
		name:  "window",
		want:  []int64{93, 92, 91},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rows, _, err := s.Search(ctx, tc.query)
			require.NoError(t, err)

			assert.Equal(t, tc.want, rowIDs(rows))
		})
	}
}
