// Package ftllock coordinates access to the pthread mutex the resolver keeps
// in shared memory.  That mutex is shared with a foreign process and must
// not be locked and unlocked from different OS threads, while the HTTP layer
// dispatches work across an arbitrary goroutine pool.  The fix is a single
// coordinator goroutine, pinned to its OS thread, which is the only place
// mutex calls ever happen; every other goroutine talks to it through
// request/response channels.
package ftllock

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/eapache/queue"
)

// ErrNotHeld is returned by Release when no hold is outstanding.
const ErrNotHeld errors.Error = "shm lock is not held"

// Default coordinator timings.  The resolver signals that it wants the lock
// through a flag in the shared segment; the coordinator polls that flag at
// defaultPollInterval and gives up on a stalled resolver after
// defaultResolverWaitTimeout, treating it as having abandoned its request.
const (
	defaultPollInterval        = 1 * time.Millisecond
	defaultResolverWaitTimeout = 10 * time.Second
)

// LockError is a nonzero error code from an OS-level mutex operation.  It
// affects only the request that observed it; the coordinator keeps serving.
type LockError struct {
	// Op is either "lock" or "unlock".
	Op string

	// Code is the raw pthread error code.
	Code int
}

// type check
var _ error = (*LockError)(nil)

// Error implements the error interface for *LockError.
func (e *LockError) Error() (msg string) {
	return fmt.Sprintf("shm mutex %s: error code %d", e.Op, e.Code)
}

// Region is one open handle to the shared lock segment.  The coordinator
// opens a fresh handle per request, since the resolver may recreate the
// segment at any time.
type Region interface {
	// Lock and Unlock operate on the embedded pthread mutex and return its
	// error code, zero on success.
	Lock() (code int)
	Unlock() (code int)

	// ResolverWaiting reports the "resolver wants the lock" flag.
	ResolverWaiting() (ok bool)

	// ClearResolverWaiting force-clears the flag.  Used after the wait
	// failsafe expires.
	ClearResolverWaiting()

	Close() (err error)
}

// RegionOpener opens the shared lock segment.
type RegionOpener func() (r Region, err error)

// opcode is the kind of request sent to the coordinator.
type opcode uint8

const (
	opLock opcode = iota
	opUnlock
)

// request is one lock or unlock request with its reply channel.  Reply
// channels are buffered so the coordinator never blocks on a send.
type request struct {
	resp chan error
	op   opcode
}

// Config is the coordinator configuration.
type Config struct {
	// Logger is used for operational logging.  It must not be nil.
	Logger *slog.Logger

	// OpenRegion opens the shared lock segment.  It must not be nil.
	OpenRegion RegionOpener

	// PollInterval overrides the resolver-flag polling interval.  Zero
	// means the default.
	PollInterval time.Duration

	// ResolverWaitTimeout overrides the stalled-resolver failsafe.  Zero
	// means the default.
	ResolverWaitTimeout time.Duration
}

// Coordinator owns the shared mutex on behalf of the whole process.  It
// keeps a hold count so that concurrent readers share one OS-level lock, and
// a FIFO queue of requests deferred while the resolver wants the lock back.
type Coordinator struct {
	logger     *slog.Logger
	openRegion RegionOpener
	reqs       chan request
	done       chan struct{}

	pollInterval time.Duration
	waitTimeout  time.Duration

	// State below is owned by the coordinator goroutine and never touched
	// from outside it.

	lockCount int
	waitQueue *queue.Queue
}

// New creates a coordinator.  Call Start before using it.
func New(conf *Config) (c *Coordinator) {
	pollIvl := conf.PollInterval
	if pollIvl == 0 {
		pollIvl = defaultPollInterval
	}

	waitTimeout := conf.ResolverWaitTimeout
	if waitTimeout == 0 {
		waitTimeout = defaultResolverWaitTimeout
	}

	return &Coordinator{
		logger:       conf.Logger,
		openRegion:   conf.OpenRegion,
		reqs:         make(chan request),
		done:         make(chan struct{}),
		pollInterval: pollIvl,
		waitTimeout:  waitTimeout,
		waitQueue:    queue.New(),
	}
}

// Start launches the coordinator goroutine.
func (c *Coordinator) Start() {
	go c.run()
}

// Close stops the coordinator.  It must not be called while holds are
// outstanding.
func (c *Coordinator) Close() (err error) {
	close(c.reqs)
	<-c.done

	return nil
}

// Acquire obtains a read hold on the shared memory.  It blocks until the
// coordinator grants the hold, bounded by the resolver-wait failsafe.  Every
// successful Acquire must be paired with exactly one Release.
func (c *Coordinator) Acquire() (err error) {
	return c.send(opLock)
}

// Release returns a hold obtained with Acquire.
func (c *Coordinator) Release() (err error) {
	return c.send(opUnlock)
}

// send submits a request and waits for the coordinator's answer.
func (c *Coordinator) send(op opcode) (err error) {
	resp := make(chan error, 1)
	c.reqs <- request{op: op, resp: resp}

	return <-resp
}

// run is the coordinator goroutine.  It pins itself to its OS thread so that
// all pthread mutex calls happen on exactly one thread for the life of the
// process, and serves requests strictly one at a time.
func (c *Coordinator) run() {
	defer close(c.done)

	runtime.LockOSThread()

	ctx := context.Background()

	for req := range c.reqs {
		region, err := c.openRegion()
		if err != nil {
			req.resp <- fmt.Errorf("opening lock segment: %w", err)

			continue
		}

		switch req.op {
		case opLock:
			c.lock(region, req.resp)
		case opUnlock:
			c.unlock(region, req.resp)
		}

		slogutil.CloseAndLog(ctx, c.logger, region, slog.LevelError)
	}
}

// lock serves one lock request.  If the resolver has signaled that it wants
// the mutex while holds are outstanding, the request is queued instead of
// granted, so current holders finish and the resolver goes first.  The OS
// mutex is locked only on the 0 to 1 transition.
func (c *Coordinator) lock(region Region, resp chan error) {
	if region.ResolverWaiting() {
		if c.lockCount > 0 {
			c.waitQueue.Add(resp)

			return
		}

		// No hold of ours is outstanding, so the resolver should take the
		// mutex almost immediately, unless it died.
		c.waitForResolver(region)
	}

	if c.lockCount == 0 {
		if code := region.Lock(); code != 0 {
			resp <- &LockError{Op: "lock", Code: code}

			return
		}
	}

	c.lockCount++
	resp <- nil
}

// unlock serves one unlock request.  The OS mutex is unlocked only on the
// 1 to 0 transition; after that the resolver gets its turn, and then exactly
// the requests queued so far are re-run, so that newly arriving requests
// cannot extend the drain indefinitely.
func (c *Coordinator) unlock(region Region, resp chan error) {
	if c.lockCount == 0 {
		resp <- ErrNotHeld

		return
	}

	c.lockCount--
	if c.lockCount != 0 {
		resp <- nil

		return
	}

	if code := region.Unlock(); code != 0 {
		resp <- &LockError{Op: "unlock", Code: code}

		return
	}

	resp <- nil

	c.waitForResolver(region)

	for n := c.waitQueue.Length(); n > 0; n-- {
		c.lock(region, c.waitQueue.Remove().(chan error))
	}
}

// waitForResolver polls until the resolver takes the mutex, clearing its
// flag, or until the failsafe expires, in which case the flag is cleared for
// it.  Either way it is safe to take the mutex when this returns.
func (c *Coordinator) waitForResolver(region Region) {
	deadline := time.Now().Add(c.waitTimeout)
	for region.ResolverWaiting() {
		if !time.Now().Before(deadline) {
			c.logger.Warn("resolver did not take the lock; clearing its flag")
			region.ClearResolverWaiting()

			return
		}

		time.Sleep(c.pollInterval)
	}
}
