//go:build linux && cgo

package ftllock

/*
#include <pthread.h>
*/
import "C"

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"github.com/adhole/ftlbridge/internal/ftlmem"
	"golang.org/x/sys/unix"
)

// lockLayout is the layout of the lock segment: the shared mutex, the
// condition variable slot the resolver sleeps on, and the flag it raises
// when it wants the mutex back.  Both processes mutate this region.
type lockLayout struct {
	mutex           C.pthread_mutex_t
	cond            C.pthread_cond_t
	resolverWaiting C.uchar
}

// shmRegion is the production [Region] over the mapped lock segment.
type shmRegion struct {
	layout *lockLayout
	data   []byte
}

// type check
var _ Region = (*shmRegion)(nil)

// ShmRegionOpener returns a [RegionOpener] mapping the resolver's lock
// segment from dir.  An empty dir means [ftlmem.DefaultShmDir].
func ShmRegionOpener(dir string) (open RegionOpener) {
	if dir == "" {
		dir = ftlmem.DefaultShmDir
	}

	path := filepath.Join(dir, ftlmem.SegLock)

	return func() (r Region, err error) {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", path, err)
		}
		defer func() { _ = unix.Close(fd) }()

		var st unix.Stat_t
		err = unix.Fstat(fd, &st)
		if err != nil {
			return nil, fmt.Errorf("lock segment: stat: %w", err)
		}

		size := int(unsafe.Sizeof(lockLayout{}))
		if int(st.Size) < size {
			return nil, fmt.Errorf("lock segment: size %d, want at least %d", st.Size, size)
		}

		data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("lock segment: mmap: %w", err)
		}

		return &shmRegion{
			layout: (*lockLayout)(unsafe.Pointer(unsafe.SliceData(data))),
			data:   data,
		}, nil
	}
}

// Lock implements the [Region] interface for *shmRegion.
func (r *shmRegion) Lock() (code int) {
	return int(C.pthread_mutex_lock(&r.layout.mutex))
}

// Unlock implements the [Region] interface for *shmRegion.
func (r *shmRegion) Unlock() (code int) {
	return int(C.pthread_mutex_unlock(&r.layout.mutex))
}

// ResolverWaiting implements the [Region] interface for *shmRegion.
func (r *shmRegion) ResolverWaiting() (ok bool) {
	return r.layout.resolverWaiting != 0
}

// ClearResolverWaiting implements the [Region] interface for *shmRegion.
func (r *shmRegion) ClearResolverWaiting() {
	r.layout.resolverWaiting = 0
}

// Close implements the [Region] interface for *shmRegion.
func (r *shmRegion) Close() (err error) {
	r.layout = nil

	return unix.Munmap(r.data)
}
