package ftlmem

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Locker is the cross-process lock the snapshot holds while reading shared
// memory.  It is implemented by the ftllock coordinator.
type Locker interface {
	Acquire() (err error)
	Release() (err error)
}

// Snapshot is a scoped read session over the resolver's shared memory: a
// lock hold paired with schema-checked segment views.  It must be released
// with Close on every exit path; accessors fail after release.
type Snapshot struct {
	lock     Locker
	view     View
	counters *Counters
	strings  StringTable
	released bool
}

// NewSnapshot acquires the lock, opens the settings segment and verifies the
// schema version.  On any failure the lock is released before returning, so
// the caller owns a hold only when err is nil.
func NewSnapshot(lock Locker, mem Memory) (s *Snapshot, err error) {
	err = lock.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquiring shm lock: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, lock.Release())
		}
	}()

	view, err := mem.Open()
	if err != nil {
		return nil, fmt.Errorf("opening shared memory: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, view.Close())
		}
	}()

	settings, err := view.Settings()
	if err != nil {
		return nil, fmt.Errorf("reading settings segment: %w", err)
	}

	if settings.Version != SchemaVersion {
		return nil, fmt.Errorf(
			"settings version %d, want %d: %w",
			settings.Version,
			SchemaVersion,
			ErrSchemaVersion,
		)
	}

	return &Snapshot{
		lock: lock,
		view: view,
	}, nil
}

// Close releases the snapshot: the mappings are dropped and the lock hold is
// returned.  Only the first call has any effect.
func (s *Snapshot) Close() (err error) {
	if s.released {
		return nil
	}

	s.released = true

	return errors.WithDeferred(s.view.Close(), s.lock.Release())
}

// cachedCounters reads and caches the counters segment for bounding the
// array accessors.
func (s *Snapshot) cachedCounters() (c *Counters, err error) {
	if s.counters == nil {
		s.counters, err = s.view.Counters()
		if err != nil {
			return nil, err
		}
	}

	return s.counters, nil
}

// Counters returns the aggregate counters.
func (s *Snapshot) Counters() (c *Counters, err error) {
	if s.released {
		return nil, ErrSnapshotClosed
	}

	return s.cachedCounters()
}

// boundedArray returns the valid prefix of an over-allocated record array.
// The segment is mapped larger than its live contents; total, from the
// counters segment, is the only trustworthy bound.
func boundedArray[T any](s *Snapshot, open func() ([]T, error), total int32) (recs []T, err error) {
	if s.released {
		return nil, ErrSnapshotClosed
	}

	recs, err = open()
	if err != nil {
		return nil, err
	}

	n := int(total)
	if n < 0 || n > len(recs) {
		return nil, fmt.Errorf("valid count %d outside allocation %d: %w", n, len(recs), ErrSegment)
	}

	return recs[:n], nil
}

// Queries returns the valid entries of the live query buffer, oldest first.
func (s *Snapshot) Queries() (qs []Query, err error) {
	c, err := s.Counters()
	if err != nil {
		return nil, err
	}

	return boundedArray(s, s.view.Queries, c.TotalQueries)
}

// Clients returns the valid entries of the clients table.
func (s *Snapshot) Clients() (cs []Client, err error) {
	c, err := s.Counters()
	if err != nil {
		return nil, err
	}

	return boundedArray(s, s.view.Clients, c.TotalClients)
}

// Domains returns the valid entries of the domains table.
func (s *Snapshot) Domains() (ds []Domain, err error) {
	c, err := s.Counters()
	if err != nil {
		return nil, err
	}

	return boundedArray(s, s.view.Domains, c.TotalDomains)
}

// Upstreams returns the valid entries of the upstreams table.
func (s *Snapshot) Upstreams() (us []Upstream, err error) {
	c, err := s.Counters()
	if err != nil {
		return nil, err
	}

	return boundedArray(s, s.view.Upstreams, c.TotalUpstreams)
}

// OverTime returns the valid entries of the over-time buckets.
func (s *Snapshot) OverTime() (ot []OverTime, err error) {
	c, err := s.Counters()
	if err != nil {
		return nil, err
	}

	return boundedArray(s, s.view.OverTime, c.OverTimeSize)
}

// Strings returns the string table.
func (s *Snapshot) Strings() (st StringTable, err error) {
	if s.released {
		return nil, ErrSnapshotClosed
	}

	if s.strings == nil {
		s.strings, err = s.view.Strings()
		if err != nil {
			return nil, err
		}
	}

	return s.strings, nil
}
