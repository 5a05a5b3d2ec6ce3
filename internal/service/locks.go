package service

import "sync"

// PortfolioLocks serializes writers per portfolio. The trade executor and the
// snapshot builder both take the portfolio's lock, so state derivation, trade
// writes and snapshot writes for one portfolio never interleave in-process.
type PortfolioLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPortfolioLocks creates an empty lock registry
func NewPortfolioLocks() *PortfolioLocks {
	return &PortfolioLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the lock for one portfolio and returns its unlock function.
func (p *PortfolioLocks) Lock(portfolioID string) func() {
	p.mu.Lock()
	lock, ok := p.locks[portfolioID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[portfolioID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
