package daemon

import (
	"sort"
	"sync"

	"github.com/entrhq/pw/pkg/types"
)

// Default port range for daemon-managed browsers.
const (
	DefaultFirstPort = 9222
	DefaultLastPort  = 10221
)

// Instance is a running pooled browser.
type Instance interface {
	Close() error
}

type slot struct {
	reserved bool
	info     BrowserInfo
	instance Instance
}

// Pool maps ports to browsers. Ports are reserved before a launch starts
// so concurrent spawns never pick the same port.
type Pool struct {
	mu       sync.Mutex
	first    int
	last     int
	slots    map[int]*slot
	portFree func(port int) bool
	// closed is set by Drain; the pool takes no browsers after that.
	closed bool
}

func errPoolClosed() error {
	return types.NewError(types.CodeDaemonUnavailable, "daemon is shutting down")
}

// NewPool creates a pool over [first, last]. portFree reports whether a
// port can be bound; nil treats every port as free.
func NewPool(first, last int, portFree func(port int) bool) *Pool {
	if portFree == nil {
		portFree = func(int) bool { return true }
	}
	return &Pool{first: first, last: last, slots: make(map[int]*slot), portFree: portFree}
}

// Reserve claims requested, or the lowest free port when requested is 0.
func (p *Pool) Reserve(requested int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errPoolClosed()
	}
	if requested != 0 {
		if requested < p.first || requested > p.last {
			return 0, types.NewError(types.CodeInvalidInput, "port %d outside range %d-%d", requested, p.first, p.last)
		}
		if _, taken := p.slots[requested]; taken {
			return 0, types.NewError(types.CodeInvalidInput, "port %d already has a browser", requested)
		}
		if !p.portFree(requested) {
			return 0, types.NewError(types.CodeInvalidInput, "port %d is in use by another process", requested)
		}
		p.slots[requested] = &slot{reserved: true}
		return requested, nil
	}

	for port := p.first; port <= p.last; port++ {
		if _, taken := p.slots[port]; taken {
			continue
		}
		if !p.portFree(port) {
			continue
		}
		p.slots[port] = &slot{reserved: true}
		return port, nil
	}
	return 0, types.NewError(types.CodeResourceExhausted, "no free port in range %d-%d", p.first, p.last)
}

// Commit turns a reservation into a pooled browser. Once the pool has been
// drained it drops the reservation and fails; the caller still owns
// instance and must close it.
func (p *Pool) Commit(info BrowserInfo, instance Instance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		delete(p.slots, info.Port)
		return errPoolClosed()
	}
	p.slots[info.Port] = &slot{info: info, instance: instance}
	return nil
}

// Abandon releases a reservation whose launch failed.
func (p *Pool) Abandon(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[port]; ok && s.reserved {
		delete(p.slots, port)
	}
}

// Remove takes a committed browser out of the pool.
func (p *Pool) Remove(port int) (Instance, BrowserInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[port]
	if !ok || s.reserved {
		return nil, BrowserInfo{}, false
	}
	delete(p.slots, port)
	return s.instance, s.info, true
}

// List returns committed browsers ordered by port.
func (p *Pool) List() []BrowserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]BrowserInfo, 0, len(p.slots))
	for _, s := range p.slots {
		if !s.reserved {
			infos = append(infos, s.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })
	return infos
}

// Drain removes every committed browser and returns them. The pool is
// closed afterwards: launches still in flight cannot commit.
func (p *Pool) Drain() []Instance {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	var instances []Instance
	for port, s := range p.slots {
		if s.reserved {
			continue
		}
		instances = append(instances, s.instance)
		delete(p.slots, port)
	}
	return instances
}
