// Package ftlmem provides read-only, typed access to the shared-memory
// segments published by the resolver process, and the snapshot guard that
// combines a cross-process lock hold with schema-checked segment views.
package ftlmem

import (
	"github.com/AdguardTeam/golibs/errors"
)

// SchemaVersion is the shared-memory layout version this build understands.
// The resolver publishes its own version in the settings segment; the two
// must match exactly or the snapshot is refused wholesale.
const SchemaVersion = 9

// Shared-memory segment names, as created by the resolver.
const (
	SegSettings  = "FTL-settings"
	SegCounters  = "FTL-counters"
	SegQueries   = "FTL-queries"
	SegClients   = "FTL-clients"
	SegDomains   = "FTL-domains"
	SegUpstreams = "FTL-upstreams"
	SegOverTime  = "FTL-overTime"
	SegStrings   = "FTL-strings"
	SegLock      = "FTL-lock"
)

// Errors returned by segment and snapshot accessors.
const (
	// ErrSchemaVersion means the resolver's shared-memory layout version
	// differs from [SchemaVersion].  It is reported distinctly so that
	// operators can detect version skew between the bridge and the resolver.
	ErrSchemaVersion errors.Error = "shared memory schema version mismatch"

	// ErrSnapshotClosed is returned by snapshot accessors after Close.
	ErrSnapshotClosed errors.Error = "snapshot is released"

	// ErrSegment means a segment could not be opened or is too small to
	// contain what its name promises.
	ErrSegment errors.Error = "bad shared memory segment"
)

// Memory is the capability interface over the resolver's shared memory.  It
// is chosen once at construction time: [ShmMemory] maps the real segments,
// [TestMemory] serves in-memory fixtures.
type Memory interface {
	// Open maps the segments for a single snapshot.  Mappings are never
	// reused across snapshots, since the resolver may resize or recreate
	// segments at any time between lock holds.
	Open() (v View, err error)
}

// View is a single snapshot's access to the raw segments.  Array accessors
// return the full allocated capacity; callers must bound iteration by the
// totals in [Counters] and never trust the raw length.
type View interface {
	Settings() (s *Settings, err error)
	Counters() (c *Counters, err error)
	Queries() (qs []Query, err error)
	Clients() (cs []Client, err error)
	Domains() (ds []Domain, err error)
	Upstreams() (us []Upstream, err error)
	OverTime() (ot []OverTime, err error)
	Strings() (st StringTable, err error)

	// Close unmaps all segments opened by this view.
	Close() (err error)
}
