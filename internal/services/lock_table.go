package services

import (
	"slices"
	"strings"
	"sync"
	"time"

	"evetia/models"
)

// LockTable stores active seat locks keyed by (eventID, userID).
// Every method returns copies, so callers can never mutate the table
// outside of Insert and Remove.
type LockTable interface {
	Insert(lock models.SeatLock)
	Remove(eventID, userID string) (models.SeatLock, bool)
	Get(eventID, userID string) (models.SeatLock, bool)
	FindConflicts(eventID string, seats []string, excludingUserID string) []models.SeatLock
	AllExpired(now time.Time, ttl time.Duration) []models.SeatLock
	Snapshot(eventID string) []models.SeatLock
	EventCounts() map[string]int
	Len() int
}

type memoryLockTable struct {
	mu sync.RWMutex

	events map[string]map[string]models.SeatLock // event id -> user id -> lock
	size   int
}

func NewLockTable() LockTable {
	return &memoryLockTable{
		events: make(map[string]map[string]models.SeatLock),
	}
}

func (t *memoryLockTable) Insert(lock models.SeatLock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.events[lock.EventID]
	if !ok {
		users = make(map[string]models.SeatLock)
		t.events[lock.EventID] = users
	}
	if _, exists := users[lock.UserID]; !exists {
		t.size++
	}
	users[lock.UserID] = lock.Clone()
}

func (t *memoryLockTable) Remove(eventID, userID string) (models.SeatLock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.events[eventID]
	if !ok {
		return models.SeatLock{}, false
	}
	lock, ok := users[userID]
	if !ok {
		return models.SeatLock{}, false
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(t.events, eventID)
	}
	t.size--
	return lock, true
}

func (t *memoryLockTable) Get(eventID, userID string) (models.SeatLock, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lock, ok := t.events[eventID][userID]
	if !ok {
		return models.SeatLock{}, false
	}
	return lock.Clone(), true
}

func (t *memoryLockTable) FindConflicts(eventID string, seats []string, excludingUserID string) []models.SeatLock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var conflicts []models.SeatLock
	for userID, lock := range t.events[eventID] {
		if userID == excludingUserID {
			continue
		}
		if slices.ContainsFunc(seats, lock.Holds) {
			conflicts = append(conflicts, lock.Clone())
		}
	}
	return conflicts
}

func (t *memoryLockTable) AllExpired(now time.Time, ttl time.Duration) []models.SeatLock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var expired []models.SeatLock
	for _, users := range t.events {
		for _, lock := range users {
			if lock.Expired(now, ttl) {
				expired = append(expired, lock.Clone())
			}
		}
	}
	return expired
}

// Snapshot returns the event's locks ordered by acquisition time.
func (t *memoryLockTable) Snapshot(eventID string) []models.SeatLock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	locks := make([]models.SeatLock, 0, len(t.events[eventID]))
	for _, lock := range t.events[eventID] {
		locks = append(locks, lock.Clone())
	}
	slices.SortFunc(locks, func(a, b models.SeatLock) int {
		if c := a.AcquiredAt.Compare(b.AcquiredAt); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return locks
}

// EventCounts returns the number of held locks per event.
func (t *memoryLockTable) EventCounts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(t.events))
	for eventID, users := range t.events {
		counts[eventID] = len(users)
	}
	return counts
}

func (t *memoryLockTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}
