package history

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/adhole/ftlbridge/internal/ftlmem"
)

// hiddenValue replaces domains and clients suppressed by a record's privacy
// level.
const hiddenValue = "hidden"

// errIDSpacesOverlap signals a violation of the resolver's id-assignment
// invariant: persisted row ids returned by the store must stay strictly
// below the ids already covered by the live buffer.
const errIDSpacesOverlap errors.Error = "live and persisted id spaces overlap"

// liveResult is what the live pass produces: the mapped page, the
// continuation cursor seeded from the probe record, and the data the store
// fallback needs to resume where the live buffer ends.
type liveResult struct {
	records []Record
	next    *Cursor

	// minSeenDBID is the smallest nonzero persisted id among scanned live
	// records.  It is the blend boundary: the store must only return rows
	// strictly below it.
	minSeenDBID int64

	// cursorFound reports whether an incoming cursor was located in the
	// live buffer.
	cursorFound bool
}

// Search runs one history query.  The result is a single ordered,
// non-overlapping page, newest-first, plus a cursor for resuming with
// identical filters, or nil when there is nothing further.
func (e *Engine) Search(ctx context.Context, params *Params) (recs []Record, next *Cursor, err error) {
	// The privacy gate comes before any shared-memory access: at the
	// maximum level no per-query detail leaves the resolver at all.
	if e.confSrc.PrivacyLevel() >= ftlmem.PrivacyMaximum {
		return []Record{}, nil, nil
	}

	snap, err := ftlmem.NewSnapshot(e.lock, e.memory)
	if err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, snap.Close()) }()

	filter, err := e.compileFilter(snap, params)
	if err != nil {
		return nil, nil, fmt.Errorf("history: compiling filters: %w", err)
	}

	limit := params.limit()

	live, err := e.searchLive(snap, params, filter, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("history: live pass: %w", err)
	}

	recs, next = live.records, live.next

	if next == nil && e.store != nil && e.windowBeyondHorizon(params) {
		var storeRecs []Record
		storeRecs, next, err = e.searchStore(ctx, params, live, limit-len(recs))
		if err != nil {
			return nil, nil, fmt.Errorf("history: store pass: %w", err)
		}

		recs = append(recs, storeRecs...)
	}

	return recs, next, nil
}

// windowBeyondHorizon reports whether the requested time range reaches past
// the live buffer's retention horizon.  An unbounded range always does.
func (e *Engine) windowBeyondHorizon(params *Params) (ok bool) {
	if params.From == 0 {
		return true
	}

	horizon := e.now().Add(-liveRetention).Unix()

	return params.From < horizon
}

// searchLive scans the live buffer newest-first, bounded by the counters'
// query total, applying the compiled filter and probing one record past the
// limit to seed the continuation cursor.
func (e *Engine) searchLive(
	snap *ftlmem.Snapshot,
	params *Params,
	filter *recordFilter,
	limit int,
) (res *liveResult, err error) {
	res = &liveResult{}

	if filter.noLiveMatch {
		return res, nil
	}

	queries, err := snap.Queries()
	if err != nil {
		return nil, err
	}

	m, err := newRecordMapper(snap)
	if err != nil {
		return nil, err
	}

	skipping := params.Cursor != nil

	var matched []*ftlmem.Query
	for i := len(queries) - 1; i >= 0; i-- {
		q := &queries[i]

		if skipping {
			if !cursorAt(params.Cursor, q) {
				continue
			}

			// The cursor points at the first record of this page, so it is
			// included.
			skipping = false
			res.cursorFound = true
		}

		if q.DBID != 0 && (res.minSeenDBID == 0 || q.DBID < res.minSeenDBID) {
			res.minSeenDBID = q.DBID
		}

		if !filter.match(q) {
			continue
		}

		matched = append(matched, q)
		if len(matched) == limit+1 {
			break
		}
	}

	// The limit+1-th record is not returned; it only tells us that a
	// further page exists and where it starts.
	if len(matched) == limit+1 {
		probe := matched[limit]
		matched = matched[:limit]

		if probe.DBID != 0 {
			res.next = DBCursor(probe.DBID)
		} else {
			res.next = LiveCursor(int64(probe.ID))
		}
	}

	res.records = make([]Record, 0, len(matched))
	for _, q := range matched {
		res.records = append(res.records, m.record(q))
	}

	return res, nil
}

// cursorAt reports whether q is the record the cursor addresses.
func cursorAt(c *Cursor, q *ftlmem.Query) (ok bool) {
	if c.ID != nil {
		return int64(q.ID) == *c.ID
	}

	return q.DBID != 0 && q.DBID == *c.DBID
}

// searchStore continues an exhausted live search in the persisted store,
// resuming from the last seen persisted id, or from the incoming cursor if
// the record it addressed has already left the live buffer.
func (e *Engine) searchStore(
	ctx context.Context,
	params *Params,
	live *liveResult,
	remaining int,
) (recs []Record, next *Cursor, err error) {
	q := &StoreQuery{
		Domain:    params.Domain,
		Client:    params.Client,
		Upstream:  params.Upstream,
		From:      params.From,
		Until:     params.Until,
		QueryType: params.QueryType,
		Status:    params.Status,
		Blocked:   params.Blocked,
		Limit:     remaining,
	}

	switch {
	case live.minSeenDBID > 0:
		q.StartID = live.minSeenDBID - 1
	case params.Cursor != nil && params.Cursor.DBID != nil && !live.cursorFound:
		q.StartID = *params.Cursor.DBID
	}

	rows, nextID, err := e.store.Search(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	recs = make([]Record, 0, len(rows))
	for _, row := range rows {
		// The live and persisted id spaces must be totally ordered at the
		// blend point; the resolver owns that invariant, so a violation is
		// its bug, tolerated by dropping the row.
		if live.minSeenDBID > 0 && row.RowID >= live.minSeenDBID {
			e.logger.Error(
				"persisted row id overlaps live buffer",
				"row_id", row.RowID,
				"live_min_db_id", live.minSeenDBID,
				slogutil.KeyError, errIDSpacesOverlap,
			)

			continue
		}

		recs = append(recs, Record{
			Domain:    row.Domain,
			Client:    row.Client,
			Upstream:  row.Upstream,
			Type:      row.Type.String(),
			Timestamp: row.Timestamp,
			DBID:      row.RowID,
			Status:    row.Status,
			Blocked:   row.Status.IsBlocked(),
		})
	}

	if nextID > 0 {
		next = DBCursor(nextID)
	}

	return recs, next, nil
}

// recordMapper resolves live records into output form using the snapshot's
// tables.
type recordMapper struct {
	strings   ftlmem.StringTable
	clients   []ftlmem.Client
	domains   []ftlmem.Domain
	upstreams []ftlmem.Upstream
}

// newRecordMapper reads the tables the mapping needs.
func newRecordMapper(snap *ftlmem.Snapshot) (m *recordMapper, err error) {
	m = &recordMapper{}

	m.strings, err = snap.Strings()
	if err != nil {
		return nil, err
	}

	m.clients, err = snap.Clients()
	if err != nil {
		return nil, err
	}

	m.domains, err = snap.Domains()
	if err != nil {
		return nil, err
	}

	m.upstreams, err = snap.Upstreams()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// record maps one live query to its output form, honoring the record's own
// privacy level.
func (m *recordMapper) record(q *ftlmem.Query) (rec Record) {
	rec = Record{
		Type:         q.Type.String(),
		Timestamp:    q.Timestamp,
		ResponseTime: q.ResponseTime,
		DBID:         q.DBID,
		ID:           q.ID,
		Status:       q.Status,
		Reply:        q.Reply,
		Dnssec:       q.Dnssec,
		Blocked:      q.Blocked(),
	}

	if q.Privacy >= ftlmem.PrivacyHideDomains {
		rec.Domain = hiddenValue
	} else if i := int(q.DomainID); i >= 0 && i < len(m.domains) {
		rec.Domain = m.domains[i].Name(m.strings)
	}

	if q.Privacy >= ftlmem.PrivacyHideDomainsAndClients {
		rec.Client = hiddenValue
	} else if i := int(q.ClientID); i >= 0 && i < len(m.clients) {
		rec.Client = m.clients[i].IP(m.strings)
	}

	if i := int(q.UpstreamID); i >= 0 && i < len(m.upstreams) {
		rec.Upstream = m.upstreams[i].IP(m.strings)
	}

	return rec
}
