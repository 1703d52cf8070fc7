// Package streammgr implements the process-singleton StreamManager: the
// userfaultfd dispatch loop that classifies each reported fault and routes
// it to the Stream that owns the faulting address.
package streammgr

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"vortex/internal/interval"
	"vortex/internal/platform"
)

// Stream is the contract every concrete stream (VortexC, VortexS) satisfies
// so StreamManager can dispatch faults to it without knowing its concrete
// type.
type Stream interface {
	// ProcessFault handles one fault at addr. write reports whether the
	// fault was a write access; wp reports whether it was a write-protect
	// fault (the guard-page stand-in) rather than a missing-page fault.
	// A returned error is a contract violation and is fatal to the
	// process.
	ProcessFault(addr uintptr, write, wp bool) error
}

// Manager is the process-wide fault dispatcher. Exactly one exists per
// process, constructed via Get.
type Manager struct {
	uffd *platform.Uffd
	tree *interval.Tree

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

var (
	singleton     *Manager
	singletonOnce sync.Once
	singletonErr  error
)

// Get returns the process-singleton StreamManager, creating it (and its
// underlying userfaultfd and dispatch goroutine) on first call.
func Get() (*Manager, error) {
	singletonOnce.Do(func() {
		u, err := platform.OpenUffd()
		if err != nil {
			singletonErr = fmt.Errorf("streammgr: %w", err)
			return
		}
		m := &Manager{
			uffd:   u,
			tree:   interval.New(),
			stopCh: make(chan struct{}),
			doneCh: make(chan struct{}),
		}
		singleton = m
		go m.dispatchLoop()
	})
	return singleton, singletonErr
}

// Uffd returns the manager's userfaultfd handle, needed by pool.BufferConfig
// construction and by streams registering/unregistering arenas.
func (m *Manager) Uffd() *platform.Uffd { return m.uffd }

// Register associates [start, end) with the owning stream so future faults
// in that range dispatch to it.
func (m *Manager) Register(start, end uintptr, s Stream) error {
	return m.tree.Add(start, end, s)
}

// Unregister drops a previously registered range, e.g. on stream teardown.
func (m *Manager) Unregister(start uintptr) error {
	return m.tree.Remove(start)
}

// dispatchLoop reads fault batches for the process lifetime and routes each
// one to its owning stream. Reading batches happens on this single dedicated
// goroutine, since Go cannot arrange for an arbitrary goroutine's OS thread to
// park and resume the way a native SIGSEGV/VEH handler can; the faulting
// goroutine instead blocks on the page access until userfaultfd reports the
// fault resolved, which for Go's runtime means the memory access itself
// blocks inside the scheduler until the kernel wakes it — functionally
// identical suspension, different mechanism.
//
// Each fault is handed to its stream on its own goroutine rather than
// processed inline: VortexC's fault policy blocks inside semEmpty/semFull
// Acquire until the complementary producer or consumer fault releases the
// matching permit, and that complementary fault can only ever reach this
// manager through another ReadFaults/dispatch round trip. Resolving faults
// inline on this loop would mean the one goroutine that could unblock a
// pending Acquire is itself parked inside it. Ordering is preserved per
// faulting thread regardless — a thread can have at most one fault
// outstanding at a time, since its own memory access stays blocked until that
// fault resolves, so the goroutines this spawns for a single producer or
// consumer never run out of order relative to each other.
func (m *Manager) dispatchLoop() {
	defer close(m.doneCh)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		faults, err := m.uffd.ReadFaults()
		if err != nil {
			log.WithError(err).Fatal("streammgr: reading uffd faults")
		}
		for _, f := range faults {
			f := f
			go m.dispatch(f)
		}
	}
}

func (m *Manager) dispatch(f platform.Fault) {
	owner, ok := m.tree.Find(f.Addr)
	if !ok {
		log.WithFields(log.Fields{"addr": f.Addr}).Fatal("streammgr: fault at unregistered address")
		return
	}
	s := owner.(Stream)
	wp := f.Kind == platform.FaultWriteProtect
	if err := s.ProcessFault(f.Addr, f.Write, wp); err != nil {
		log.WithFields(log.Fields{"addr": f.Addr, "write": f.Write, "wp": wp}).
			WithError(err).Fatal("streammgr: stream reported fault unhandled")
	}
}

// Stop halts the dispatch loop and closes the underlying userfaultfd. Tests
// construct their own Manager-independent fixtures rather than calling this
// on the process singleton.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.uffd.Close()
	})
}
