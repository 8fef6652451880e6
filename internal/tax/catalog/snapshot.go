// Package catalog maintains the versioned, read-only rule snapshots that
// calculations run against.
package catalog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

// Snapshot is an immutable copy of the rule catalog. Nothing it returns
// aliases its internal state.
type Snapshot struct {
	id      string
	version uint64
	takenAt time.Time
	rules   []taxdomain.TaxRule
	active  int
}

func newSnapshot(version uint64, takenAt time.Time, rules []taxdomain.TaxRule) *Snapshot {
	s := &Snapshot{
		id:      ulid.MustNew(ulid.Timestamp(takenAt), ulid.DefaultEntropy()).String(),
		version: version,
		takenAt: takenAt.UTC(),
		rules:   cloneRules(rules),
	}
	for _, rule := range s.rules {
		if rule.Active {
			s.active++
		}
	}
	return s
}

// Rules returns a copy of the rules in definition order.
func (s *Snapshot) Rules() []taxdomain.TaxRule {
	if s == nil {
		return nil
	}
	return cloneRules(s.rules)
}

func (s *Snapshot) ID() string         { return s.id }
func (s *Snapshot) Version() uint64    { return s.version }
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }
func (s *Snapshot) Len() int           { return len(s.rules) }

func (s *Snapshot) Info() taxdomain.CatalogInfo {
	if s == nil {
		return taxdomain.CatalogInfo{}
	}
	return taxdomain.CatalogInfo{
		SnapshotID:  s.id,
		Version:     s.version,
		RuleCount:   len(s.rules),
		ActiveCount: s.active,
		TakenAt:     s.takenAt,
	}
}

func cloneRules(rules []taxdomain.TaxRule) []taxdomain.TaxRule {
	out := make([]taxdomain.TaxRule, len(rules))
	for i, rule := range rules {
		out[i] = rule.Clone()
	}
	return out
}

// Store holds the snapshot currently serving calculations. Readers never
// block; a calculation keeps the snapshot it loaded even if a newer one is
// published meanwhile.
type Store struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the latest snapshot, or nil before the first publish.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish installs rules as the next version.
func (s *Store) Publish(rules []taxdomain.TaxRule, takenAt time.Time) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.version + 1
	}
	next := newSnapshot(version, takenAt, rules)
	s.current.Store(next)
	return next
}
