// Package blacklist holds the curated set of known or suspected illicit
// addresses. Storage is delegated to a Repository; the Store adds ordering
// guarantees and change notification on top.
package blacklist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Repository is the durable backing store. Get returns (nil, nil) for an
// unknown address and Delete of an unknown address is not an error.
// Implementations report concurrent-write conflicts as
// aml.ErrBlacklistWriteConflict.
type Repository interface {
	Get(ctx context.Context, address aml.Address) (*aml.BlacklistEntry, error)
	Upsert(ctx context.Context, entry *aml.BlacklistEntry) error
	Delete(ctx context.Context, address aml.Address) error
	List(ctx context.Context) ([]aml.BlacklistEntry, error)
}

// DefaultReason is recorded for entries added without a reason.
const DefaultReason = "unspecified"

// ChangeFunc is called after a successful Add or Remove.
type ChangeFunc func(address aml.Address)

// Store serializes access to the repository: writes are exclusive, reads
// shared, so a read issued after a write returns observes it. Nothing is
// cached; every call goes to the repository.
type Store struct {
	repo      Repository
	log       *logrus.Logger
	now       func() time.Time
	mu        sync.RWMutex
	listeners []ChangeFunc
}

// NewStore creates a store over repo
func NewStore(repo Repository, log *logrus.Logger) *Store {
	return &Store{repo: repo, log: log, now: time.Now}
}

// OnChange registers fn to run after every mutation.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Contains reports whether address is blacklisted.
func (s *Store) Contains(ctx context.Context, address aml.Address) (bool, error) {
	entry, err := s.Get(ctx, address)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// ReasonFor returns the recorded reason and whether the address is listed.
func (s *Store) ReasonFor(ctx context.Context, address aml.Address) (string, bool, error) {
	entry, err := s.Get(ctx, address)
	if err != nil {
		return "", false, err
	}
	if entry == nil {
		return "", false, nil
	}
	return entry.Reason, true, nil
}

// Get returns the entry for address or nil.
func (s *Store) Get(ctx context.Context, address aml.Address) (*aml.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	entry, err := s.repo.Get(ctx, address)
	metrics.RecordDatabaseQuery("blacklist_get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("blacklist get %s: %w", address, err)
	}
	return entry, nil
}

// Add inserts or replaces the entry for its address. Re-adding refreshes the
// reason, actor and timestamp; it never creates a duplicate. An empty reason
// is stored as DefaultReason.
func (s *Store) Add(ctx context.Context, entry aml.BlacklistEntry) error {
	if entry.Address == "" {
		return fmt.Errorf("%w: empty address", aml.ErrInvalidAddress)
	}
	entry.Reason = strings.TrimSpace(entry.Reason)
	if entry.Reason == "" {
		entry.Reason = DefaultReason
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = s.now().UTC()
	}

	s.mu.Lock()
	start := time.Now()
	err := s.repo.Upsert(ctx, &entry)
	metrics.RecordDatabaseQuery("blacklist_upsert", time.Since(start), err)
	listeners := s.listeners
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("blacklist add %s: %w", entry.Address, err)
	}

	metrics.BlacklistChanges.WithLabelValues("add").Inc()
	s.log.WithFields(logrus.Fields{
		"address":  entry.Address,
		"reason":   entry.Reason,
		"added_by": entry.AddedBy,
	}).Info("Blacklist entry added")

	notify(listeners, entry.Address)
	return nil
}

// Remove hard-deletes address. Removing an unlisted address is a no-op.
func (s *Store) Remove(ctx context.Context, address aml.Address, actor string) error {
	s.mu.Lock()
	start := time.Now()
	err := s.repo.Delete(ctx, address)
	metrics.RecordDatabaseQuery("blacklist_delete", time.Since(start), err)
	listeners := s.listeners
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("blacklist remove %s: %w", address, err)
	}

	metrics.BlacklistChanges.WithLabelValues("remove").Inc()
	s.log.WithFields(logrus.Fields{
		"address": address,
		"actor":   actor,
	}).Info("Blacklist entry removed")

	notify(listeners, address)
	return nil
}

// List returns every entry.
func (s *Store) List(ctx context.Context) ([]aml.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	entries, err := s.repo.List(ctx)
	metrics.RecordDatabaseQuery("blacklist_list", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("blacklist list: %w", err)
	}
	return entries, nil
}

func notify(listeners []ChangeFunc, address aml.Address) {
	for _, fn := range listeners {
		fn(address)
	}
}
