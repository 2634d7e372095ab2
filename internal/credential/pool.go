// Package credential rotates the paint credentials. Each credential may be
// used at most once per cooldown, and only by one worker at a time.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// ErrExhausted is returned by Acquire once every credential has been
// invalidated; nothing will ever become eligible again.
var ErrExhausted = errors.New("all credentials have been invalidated")

// pollInterval bounds how long Acquire sleeps before re-checking eligibility.
const pollInterval = time.Second

// Credential is an opaque token plus the time it was last used.
// A zero LastUsed means the credential has never been used.
type Credential struct {
	Token    string
	LastUsed time.Time
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Available   int `json:"available"`
	Held        int `json:"held"`
	Invalidated int `json:"invalidated"`
}

// Pool hands out credentials in FIFO order, enforcing the cooldown.
// It is safe for concurrent use.
type Pool struct {
	cooldown time.Duration
	clock    clock.Clock

	mu          sync.Mutex
	idle        []*Credential
	held        map[*Credential]time.Time // holder's acquisition time
	invalidated int
	wake        chan struct{} // closed and replaced whenever idle changes
}

// NewPool builds a pool from loaded credentials. The pool takes ownership of
// copies of the given values.
func NewPool(creds []Credential, cooldown time.Duration, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.NewClock()
	}
	idle := make([]*Credential, 0, len(creds))
	for i := range creds {
		c := creds[i]
		idle = append(idle, &c)
	}
	return &Pool{
		cooldown: cooldown,
		clock:    clk,
		idle:     idle,
		held:     make(map[*Credential]time.Time),
		wake:     make(chan struct{}),
	}
}

// Acquire blocks until a credential's cooldown has elapsed, removes it from
// the pool and returns it. The caller holds it exclusively until Release,
// Putback or Invalidate.
func (p *Pool) Acquire(ctx context.Context) (*Credential, error) {
	for {
		p.mu.Lock()
		if len(p.idle) == 0 && len(p.held) == 0 {
			p.mu.Unlock()
			return nil, ErrExhausted
		}

		now := p.clock.Now()
		wait := pollInterval
		for i, c := range p.idle {
			remaining := c.LastUsed.Add(p.cooldown).Sub(now)
			if c.LastUsed.IsZero() || remaining <= 0 {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				p.held[c] = now
				p.mu.Unlock()
				return c, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case <-p.clock.After(wait):
		}
	}
}

// Release returns a used credential to the back of the queue and starts its
// cooldown.
func (p *Pool) Release(c *Credential) {
	p.giveBack(c, true)
}

// Putback returns a credential that was acquired but not used. Its cooldown
// counts from the acquisition rather than from now.
func (p *Pool) Putback(c *Credential) {
	p.giveBack(c, false)
}

func (p *Pool) giveBack(c *Credential, used bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acquired, ok := p.held[c]
	if !ok {
		return
	}
	delete(p.held, c)
	if used {
		c.LastUsed = p.clock.Now()
	} else {
		c.LastUsed = acquired
	}
	p.idle = append(p.idle, c)
	p.broadcast()
}

// Invalidate permanently removes a held credential, e.g. after the board
// reported it as logged out.
func (p *Pool) Invalidate(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[c]; !ok {
		return
	}
	delete(p.held, c)
	p.invalidated++
	p.broadcast()
}

// broadcast wakes every waiting Acquire. Callers hold p.mu.
func (p *Pool) broadcast() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Available:   len(p.idle),
		Held:        len(p.held),
		Invalidated: p.invalidated,
	}
}
