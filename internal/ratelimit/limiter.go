// Package ratelimit bounds how many requests one identity may make per window.
//
// The algorithm is a resettable fixed window: the first request after a
// window has lapsed starts a new one. A client can therefore get close to
// 2×max requests through in a short span straddling a window boundary.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 10
)

type record struct {
	count       int
	windowStart time.Time
}

// Limiter keeps per-identity counters in memory. State is lost on restart.
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	records   map[string]*record
	now       func() time.Time
	lastSweep time.Time
}

type Option func(*Limiter)

func WithWindow(window time.Duration) Option {
	return func(l *Limiter) { l.window = window }
}

func WithMaxRequests(max int) Option {
	return func(l *Limiter) { l.max = max }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		window:  DefaultWindow,
		max:     DefaultMaxRequests,
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Admit counts one request for identity and reports whether it may proceed.
// A rejected request does not change the counter.
func (l *Limiter) Admit(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	rec, ok := l.records[identity]
	if !ok || now.Sub(rec.windowStart) > l.window {
		l.records[identity] = &record{count: 1, windowStart: now}
		return true
	}
	if rec.count < l.max {
		rec.count++
		return true
	}
	return false
}

// Len returns the number of identities currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// sweepLocked drops records whose window lapsed. It runs at most once per
// window so the cost stays amortised across requests.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for identity, rec := range l.records {
		if now.Sub(rec.windowStart) > l.window {
			delete(l.records, identity)
		}
	}
}
