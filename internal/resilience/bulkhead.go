package resilience

import (
	"os"
	"sync"
)

// Bulkhead limits how many processes talk to a host at once. A process
// holds at most one permit; concurrent fetches within the process share it
// and the permit is returned when the last of them releases.
type Bulkhead struct {
	config BulkheadConfig
	store  *Store
	host   string
	pid    int

	mu   sync.Mutex
	held int
}

// NewBulkhead creates a bulkhead for host. Zero config fields take defaults.
func NewBulkhead(store *Store, host string, config BulkheadConfig) *Bulkhead {
	return &Bulkhead{
		config: config.withDefaults(),
		store:  store,
		host:   host,
		pid:    os.Getpid(),
	}
}

func (b *Bulkhead) prune(bh *BulkheadState) {
	alive := bh.ActivePIDs[:0]
	for _, pid := range bh.ActivePIDs {
		if pid == b.pid || isProcessAlive(pid) {
			alive = append(alive, pid)
		}
	}
	bh.ActivePIDs = alive
}

// Acquire takes a permit for this process. Store errors fail open.
func (b *Bulkhead) Acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held > 0 {
		b.held++
		return true, nil
	}

	var acquired bool
	err := b.store.Update(func(s *State) error {
		bh := &s.Host(b.host).Bulkhead
		b.prune(bh)
		if bh.HasPID(b.pid) || bh.Count() < b.config.MaxConcurrent {
			bh.AddPID(b.pid)
			acquired = true
		}
		return nil
	})
	if err != nil {
		b.held++
		return true, nil //nolint:nilerr // fail open
	}
	if acquired {
		b.held++
	}
	return acquired, nil
}

// Release returns one hold; the permit is freed with the last one.
func (b *Bulkhead) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held == 0 {
		return nil
	}
	b.held--
	if b.held > 0 {
		return nil
	}
	return b.store.Update(func(s *State) error {
		s.Host(b.host).Bulkhead.RemovePID(b.pid)
		return nil
	})
}

// InUse returns the number of live processes holding a permit.
func (b *Bulkhead) InUse() (int, error) {
	state, err := b.store.Load()
	if err != nil {
		return 0, err
	}
	bh := state.Peek(b.host).Bulkhead
	bh.ActivePIDs = append([]int(nil), bh.ActivePIDs...)
	b.prune(&bh)
	return bh.Count(), nil
}

// Available returns the number of free permits.
func (b *Bulkhead) Available() (int, error) {
	n, err := b.InUse()
	if err != nil {
		return b.config.MaxConcurrent, err
	}
	return max(b.config.MaxConcurrent-n, 0), nil
}

// Reset drops every permit, including ones held by live processes.
func (b *Bulkhead) Reset() error {
	b.mu.Lock()
	b.held = 0
	b.mu.Unlock()
	return b.store.Update(func(s *State) error {
		s.Host(b.host).Bulkhead = BulkheadState{ActivePIDs: []int{}}
		return nil
	})
}

// ForceCleanup removes permits held by dead processes.
func (b *Bulkhead) ForceCleanup() error {
	return b.store.Update(func(s *State) error {
		b.prune(&s.Host(b.host).Bulkhead)
		return nil
	})
}
