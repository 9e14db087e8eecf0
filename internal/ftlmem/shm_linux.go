//go:build linux

package ftlmem

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/sys/unix"
)

// DefaultShmDir is where the kernel exposes POSIX shared-memory objects.
const DefaultShmDir = "/dev/shm"

// ShmMemory is the production [Memory]: it maps the resolver's segments from
// the shared-memory filesystem.
type ShmMemory struct {
	// Dir is the directory holding the segments.  If empty,
	// [DefaultShmDir] is used.
	Dir string
}

// type check
var _ Memory = (*ShmMemory)(nil)

// Open implements the [Memory] interface for *ShmMemory.
func (m *ShmMemory) Open() (v View, err error) {
	dir := m.Dir
	if dir == "" {
		dir = DefaultShmDir
	}

	return &shmView{
		dir:  dir,
		maps: map[string][]byte{},
	}, nil
}

// shmView lazily maps segments and unmaps them all on Close.  A view is only
// used from one goroutine, under one lock hold, so it needs no locking of
// its own.
type shmView struct {
	dir  string
	maps map[string][]byte
}

// type check
var _ View = (*shmView)(nil)

// mapSegment maps the named segment read-only, reusing a previous mapping
// from the same view.
func (v *shmView) mapSegment(name string) (data []byte, err error) {
	if data, ok := v.maps[name]; ok {
		return data, nil
	}

	path := filepath.Join(v.dir, name)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening segment %q: %w", name, err)
	}
	defer func() { err = errors.WithDeferred(err, unix.Close(fd)) }()

	var st unix.Stat_t
	err = unix.Fstat(fd, &st)
	if err != nil {
		return nil, fmt.Errorf("segment %q: stat: %w", name, err)
	}

	if st.Size == 0 {
		return nil, fmt.Errorf("segment %q: empty: %w", name, ErrSegment)
	}

	data, err = unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("segment %q: mmap: %w", name, err)
	}

	v.maps[name] = data

	return data, nil
}

// segStruct maps the named segment and casts it to a single record of type T.
func segStruct[T any](v *shmView, name string) (rec *T, err error) {
	data, err := v.mapSegment(name)
	if err != nil {
		return nil, err
	}

	if len(data) < int(unsafe.Sizeof(*rec)) {
		return nil, fmt.Errorf("segment %q: too small for record: %w", name, ErrSegment)
	}

	return (*T)(unsafe.Pointer(unsafe.SliceData(data))), nil
}

// segArray maps the named segment and casts it to a slice of records of type
// T covering the whole allocation.  Only a prefix of the slice holds valid
// records; callers bound iteration by the counters segment.
func segArray[T any](v *shmView, name string) (recs []T, err error) {
	data, err := v.mapSegment(name)
	if err != nil {
		return nil, err
	}

	var rec T
	size := int(unsafe.Sizeof(rec))
	n := len(data) / size
	if n == 0 {
		return nil, fmt.Errorf("segment %q: too small for record: %w", name, ErrSegment)
	}

	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n), nil
}

// Settings implements the [View] interface for *shmView.
func (v *shmView) Settings() (s *Settings, err error) {
	return segStruct[Settings](v, SegSettings)
}

// Counters implements the [View] interface for *shmView.
func (v *shmView) Counters() (c *Counters, err error) {
	return segStruct[Counters](v, SegCounters)
}

// Queries implements the [View] interface for *shmView.
func (v *shmView) Queries() (qs []Query, err error) {
	return segArray[Query](v, SegQueries)
}

// Clients implements the [View] interface for *shmView.
func (v *shmView) Clients() (cs []Client, err error) {
	return segArray[Client](v, SegClients)
}

// Domains implements the [View] interface for *shmView.
func (v *shmView) Domains() (ds []Domain, err error) {
	return segArray[Domain](v, SegDomains)
}

// Upstreams implements the [View] interface for *shmView.
func (v *shmView) Upstreams() (us []Upstream, err error) {
	return segArray[Upstream](v, SegUpstreams)
}

// OverTime implements the [View] interface for *shmView.
func (v *shmView) OverTime() (ot []OverTime, err error) {
	return segArray[OverTime](v, SegOverTime)
}

// Strings implements the [View] interface for *shmView.
func (v *shmView) Strings() (st StringTable, err error) {
	data, err := v.mapSegment(SegStrings)
	if err != nil {
		return nil, err
	}

	return blobStrings{data: data}, nil
}

// Close implements the [View] interface for *shmView.
func (v *shmView) Close() (err error) {
	for _, data := range v.maps {
		err = errors.WithDeferred(err, unix.Munmap(data))
	}

	clear(v.maps)

	return err
}
