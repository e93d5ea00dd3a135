// Package mock provides in-memory implementations of the scan ports for
// testing.
package mock

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kozaktomas/facescan/internal/scan"
)

// Store is an in-memory scan.Store with channel fan-out.
type Store struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	ledgers map[string]map[string]time.Time
	ttls    map[string]time.Duration
	subs    map[string][]*subscription

	published map[string][][]byte

	// Error injection
	SetCounterError   error
	DecrementError    error
	GetError          error
	SetError          error
	AddToSetError     error
	RemoveSetError    error
	RecordClaimError  error
	SettleClaimError  error
	ClaimsBeforeError error
	PublishError      error
	SubscribeError    error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		values:    make(map[string]string),
		sets:      make(map[string]map[string]struct{}),
		ledgers:   make(map[string]map[string]time.Time),
		ttls:      make(map[string]time.Duration),
		subs:      make(map[string][]*subscription),
		published: make(map[string][][]byte),
	}
}

// SetCounter stores an integer with a TTL.
func (s *Store) SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if s.SetCounterError != nil {
		return s.SetCounterError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = strconv.FormatInt(value, 10)
	s.ttls[key] = ttl
	return nil
}

// DecrementExisting decrements key when present.
func (s *Store) DecrementExisting(ctx context.Context, key string) (int64, bool, error) {
	if s.DecrementError != nil {
		return 0, false, s.DecrementError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	n--
	s.values[key] = strconv.FormatInt(n, 10)
	return n, true, nil
}

// Get returns scan.ErrNotFound for missing keys.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.GetError != nil {
		return "", s.GetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", scan.ErrNotFound
	}
	return v, nil
}

// Set stores a string with a TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.SetError != nil {
		return s.SetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

// Delete removes keys of any kind.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
		delete(s.ledgers, k)
		delete(s.ttls, k)
	}
	return nil
}

// AddToSet inserts member, setting the TTL only on a new set.
func (s *Store) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	if s.AddToSetError != nil {
		return false, s.AddToSetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	if _, ok := s.ttls[key]; !ok {
		s.ttls[key] = ttl
	}
	if _, ok := set[member]; ok {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

// RemoveFromSet removes member.
func (s *Store) RemoveFromSet(ctx context.Context, key, member string) error {
	if s.RemoveSetError != nil {
		return s.RemoveSetError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[key], member)
	return nil
}

// RecordClaim adds member to the ledger at the given time.
func (s *Store) RecordClaim(ctx context.Context, key, member string, at time.Time) error {
	if s.RecordClaimError != nil {
		return s.RecordClaimError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger, ok := s.ledgers[key]
	if !ok {
		ledger = make(map[string]time.Time)
		s.ledgers[key] = ledger
	}
	ledger[member] = at
	return nil
}

// SettleClaim removes member and reports whether it was present.
func (s *Store) SettleClaim(ctx context.Context, key, member string) (bool, error) {
	if s.SettleClaimError != nil {
		return false, s.SettleClaimError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledgers[key][member]; !ok {
		return false, nil
	}
	delete(s.ledgers[key], member)
	return true, nil
}

// ClaimsBefore lists ledger members recorded before cutoff, oldest first.
func (s *Store) ClaimsBefore(ctx context.Context, key string, cutoff time.Time) ([]string, error) {
	if s.ClaimsBeforeError != nil {
		return nil, s.ClaimsBeforeError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m, at := range s.ledgers[key] {
		if at.Before(cutoff) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.ledgers[key][out[i]].Before(s.ledgers[key][out[j]])
	})
	return out, nil
}

// Publish records payload and delivers it to every live subscription.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if s.PublishError != nil {
		return s.PublishError
	}
	s.mu.Lock()
	s.published[channel] = append(s.published[channel], payload)
	subs := append([]*subscription(nil), s.subs[channel]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

// Subscribe registers a buffered subscription.
func (s *Store) Subscribe(ctx context.Context, channel string) (scan.Subscription, error) {
	if s.SubscribeError != nil {
		return nil, s.SubscribeError
	}
	sub := &subscription{
		ch:   make(chan []byte, 1024),
		done: make(chan struct{}),
	}
	sub.close = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[channel]
		for i, other := range list {
			if other == sub {
				s.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

// Published returns the payloads published on channel so far.
func (s *Store) Published(channel string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.published[channel]...)
}

// Events decodes everything published on the scan event channel.
func (s *Store) Events() []scan.Event {
	var out []scan.Event
	for _, p := range s.Published(scan.EventChannel) {
		ev, err := scan.DecodeEvent(p)
		if err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Has reports whether key exists as a value, set or ledger.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.ledgers[key]
	return ok
}

// TTL returns the TTL recorded for key.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// SetMembers returns the members of a set.
func (s *Store) SetMembers(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// LedgerSize returns the number of claims in a ledger.
func (s *Store) LedgerSize(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledgers[key])
}

// Expire drops key as if its TTL had elapsed.
func (s *Store) Expire(key string) {
	_ = s.Delete(context.Background(), key)
}

// Subscribers returns the number of live subscriptions on channel.
func (s *Store) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[channel])
}

type subscription struct {
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
	close func()
}

func (s *subscription) deliver(payload []byte) {
	select {
	case s.ch <- payload:
	case <-s.done:
	}
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.close()
		close(s.done)
	})
	return nil
}
