// Package ledger tracks which source orders have been copied, the derived
// order placed for each, and the exposure of every order this wallet has
// open.
//
// A source hash moves through three states: unclaimed, in flight (claimed
// by a copy that has not finished) and copied. Copied hashes are remembered
// for the process lifetime so a redelivered source can never produce a
// second derived order, even after its mapping has been removed.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/rickgao/sx-copybot/internal/model"
)

// claim is an in-flight copy reservation.
type claim struct {
	orphaned bool // source went away before the copy finished
}

// Stats provides statistics about the ledger.
type Stats struct {
	Mappings int
	InFlight int
	Copied   int
	Closed   int
	Own      int
}

// Ledger relates source orders to derived orders. All methods are safe for
// concurrent use and each is atomic with respect to the others.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	mappings map[string]model.Mapping // source hash -> mapping
	derived  map[string]string        // derived hash -> source hash
	inflight map[string]*claim        // source hash -> claim
	copied   map[string]struct{}      // source hashes ever copied
	closed   map[string]struct{}      // source hashes seen cancelled or filled
	own      map[string]model.Order   // own order hash -> latest snapshot
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger:   logger,
		now:      time.Now,
		mappings: make(map[string]model.Mapping),
		derived:  make(map[string]string),
		inflight: make(map[string]*claim),
		copied:   make(map[string]struct{}),
		closed:   make(map[string]struct{}),
		own:      make(map[string]model.Order),
	}
}

// Claim reserves sourceHash for a copy. It returns false if the source was
// already copied, has been closed, or another copy of it is in flight.
func (l *Ledger) Claim(sourceHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.copied[sourceHash]; ok {
		return false
	}
	if _, ok := l.closed[sourceHash]; ok {
		return false
	}
	if _, ok := l.inflight[sourceHash]; ok {
		return false
	}
	l.inflight[sourceHash] = &claim{}
	return true
}

// MarkClosed records that sourceHash was cancelled or filled. A closed
// source can never be claimed, so a stale redelivery arriving after the
// close cannot produce a derived order. Claims already in flight are left
// to TakeDerived.
func (l *Ledger) MarkClosed(sourceHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed[sourceHash] = struct{}{}
}

// Abandon releases a claim after a failed copy. The source can be claimed
// again by a later event.
func (l *Ledger) Abandon(sourceHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, sourceHash)
}

// RecordMapping records derived as the copy of sourceHash and settles any
// claim on it. A second mapping for the same source is a no-op.
//
// If the source was cancelled while the copy was in flight, nothing is
// recorded and orphaned is true; the caller owns cancelling derived.
func (l *Ledger) RecordMapping(derived model.Order, sourceHash string) (recorded, orphaned bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.mappings[sourceHash]; ok {
		l.logger.Warn("duplicate mapping ignored",
			"source_hash", sourceHash,
			"existing_hash", existing.Derived.Hash,
			"derived_hash", derived.Hash,
		)
		return false, false
	}

	c := l.inflight[sourceHash]
	delete(l.inflight, sourceHash)
	l.copied[sourceHash] = struct{}{}

	if c != nil && c.orphaned {
		return false, true
	}

	l.mappings[sourceHash] = model.Mapping{
		SourceHash: sourceHash,
		Derived:    derived.Clone(),
		CreatedAt:  l.now(),
	}
	l.derived[derived.Hash] = sourceHash
	return true, false
}

// IsAlreadyCopied reports whether sourceHash has ever been copied.
func (l *Ledger) IsAlreadyCopied(sourceHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.copied[sourceHash]
	return ok
}

// FindDerived returns the live derived order for sourceHash.
func (l *Ledger) FindDerived(sourceHash string) (model.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.mappings[sourceHash]
	if !ok {
		return model.Order{}, false
	}
	return m.Derived.Clone(), true
}

// TakeDerived removes and returns the live mapping for sourceHash, so that
// exactly one caller acts on it. If a copy of the source is still in flight
// the claim is marked orphaned and RecordMapping will report it.
func (l *Ledger) TakeDerived(sourceHash string) (model.Mapping, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.mappings[sourceHash]
	if !ok {
		if c, inflight := l.inflight[sourceHash]; inflight {
			c.orphaned = true
		}
		return model.Mapping{}, false
	}
	delete(l.mappings, sourceHash)
	delete(l.derived, m.Derived.Hash)
	return m, true
}

// Restore puts back a mapping taken by TakeDerived, for when acting on it
// failed. It is a no-op if the source has been mapped again since.
func (l *Ledger) Restore(m model.Mapping) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.mappings[m.SourceHash]; ok {
		return
	}
	l.mappings[m.SourceHash] = m
	l.derived[m.Derived.Hash] = m.SourceHash
}

// RecordOwnInstruction records or refreshes an order placed by this wallet.
func (l *Ledger) RecordOwnInstruction(order model.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.own[order.Hash] = order.Clone()
}

// Remove forgets an own order. If it was the derived side of a mapping,
// the mapping is removed too and its source hash returned.
func (l *Ledger) Remove(hash string) (sourceHash string, mapped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.own, hash)
	sourceHash, mapped = l.derived[hash]
	if mapped {
		delete(l.derived, hash)
		delete(l.mappings, sourceHash)
	}
	return sourceHash, mapped
}

// ExposureStats returns the number of open own orders and the sum of their
// unfilled stake.
func (l *Ledger) ExposureStats() (count int, total *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total = new(uint256.Int)
	for _, o := range l.own {
		total.Add(total, o.Remaining())
	}
	return len(l.own), total
}

// Mappings returns a snapshot of every live mapping.
func (l *Ledger) Mappings() []model.Mapping {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Mapping, 0, len(l.mappings))
	for _, m := range l.mappings {
		m.Derived = m.Derived.Clone()
		out = append(out, m)
	}
	return out
}

// Stats returns current statistics.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Mappings: len(l.mappings),
		InFlight: len(l.inflight),
		Copied:   len(l.copied),
		Closed:   len(l.closed),
		Own:      len(l.own),
	}
}
