// Package history implements the paginated, filterable query-history engine.
// Results come from the resolver's live shared-memory buffer first and, once
// that is exhausted, from the persisted long-term store.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhole/ftlbridge/internal/ftlmem"
)

// liveRetention is how long the resolver keeps queries in its in-memory
// buffer before they exist only in the persisted store.
const liveRetention = 24 * time.Hour

// DefaultLimit is the page size used when a request does not specify one.
const DefaultLimit = 100

// ConfigSource provides the read-only appliance settings consulted on every
// search.  Implemented by the setupvars package.
type ConfigSource interface {
	// PrivacyLevel returns the configured privacy level.
	PrivacyLevel() (lvl ftlmem.PrivacyLevel)

	// QueryLogShow returns the query-log visibility setting: "",
	// "permittedonly", "blockedonly", or "nothing".
	QueryLogShow() (mode string)

	// ExcludedDomains and ExcludedClients return the exclusion lists.
	// Entries match exactly, not by substring.
	ExcludedDomains() (domains []string)
	ExcludedClients() (clients []string)
}

// Record is one query-history entry in output form, with all string ids
// resolved.
type Record struct {
	Domain   string `json:"domain"`
	Client   string `json:"client"`
	Upstream string `json:"upstream"`
	Type     string `json:"type"`

	Timestamp int64 `json:"timestamp"`

	// ResponseTime is in units of 100 microseconds.
	ResponseTime uint64 `json:"response_time"`

	// DBID is the persisted row id, 0 if the record was never persisted.
	DBID int64 `json:"-"`

	// ID is the live sequence id, 0 for records loaded from the store.
	ID int32 `json:"-"`

	Status  ftlmem.QueryStatus `json:"status"`
	Reply   ftlmem.ReplyType   `json:"reply"`
	Dnssec  ftlmem.DnssecType  `json:"dnssec"`
	Blocked bool               `json:"blocked"`
}

// StoreRecord is one row of the persisted store.
type StoreRecord struct {
	Domain   string
	Client   string
	Upstream string

	RowID     int64
	Timestamp int64

	Type   ftlmem.QueryType
	Status ftlmem.QueryStatus
}

// StoreQuery describes one page request against the persisted store.  The
// store applies the same filter semantics as the live pass, as far as its
// schema can express them.
type StoreQuery struct {
	Domain   string
	Client   string
	Upstream string

	// StartID resumes the search at row ids at or below it.  Zero means
	// start from the newest row.
	StartID int64

	// From and Until bound the timestamp range.  Zero means unbounded.
	From  int64
	Until int64

	QueryType *ftlmem.QueryType
	Status    *ftlmem.QueryStatus
	Blocked   *bool

	// Limit is the number of rows wanted.  The store probes one row past
	// it: nextID is set from that extra row, so a Limit of zero returns no
	// rows but still reports where a search would resume.
	Limit int
}

// Store is the query surface of the persisted long-term database.  rows are
// ordered newest-first (descending row id); nextID is the row id at which
// the next page starts, or zero when the store is exhausted.
type Store interface {
	Search(ctx context.Context, q *StoreQuery) (rows []StoreRecord, nextID int64, err error)
}

// Config is the history engine configuration.
type Config struct {
	// Logger is used for operational logging.  It must not be nil.
	Logger *slog.Logger

	// Lock is the cross-process lock coordinator.  It must not be nil.
	Lock ftlmem.Locker

	// Memory is the shared-memory capability.  It must not be nil.
	Memory ftlmem.Memory

	// Store is the persisted store.  It may be nil, in which case history
	// older than the live buffer is simply unavailable.
	Store Store

	// ConfSrc provides privacy and exclusion settings.  It must not be
	// nil.
	ConfSrc ConfigSource

	// Now returns the current time.  If nil, [time.Now] is used.
	Now func() (now time.Time)
}

// Engine answers query-history searches.
type Engine struct {
	logger  *slog.Logger
	lock    ftlmem.Locker
	memory  ftlmem.Memory
	store   Store
	confSrc ConfigSource
	now     func() (now time.Time)
}

// NewEngine creates a history engine.
func NewEngine(conf *Config) (e *Engine) {
	now := conf.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		logger:  conf.Logger,
		lock:    conf.Lock,
		memory:  conf.Memory,
		store:   conf.Store,
		confSrc: conf.ConfSrc,
		now:     now,
	}
}
