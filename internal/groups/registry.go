// Package groups matches users into bounded study groups per category and tracks each
// group's lifecycle and quiz scores.
package groups

import (
	"log"
	"strings"
	"sync"
	"time"

	"studygroup-server/internal/apperr"
)

const (
	DefaultCapacity       = 5
	DefaultStartThreshold = 2
)

// LogRegistrar is told about every newly created group so it can open the group's
// message log before anyone joins.
type LogRegistrar interface {
	Open(groupID int)
}

type Registry struct {
	mu       sync.RWMutex
	groups   []*group // creation order, first-fit scans it front to back
	byID     map[int]*group
	memberOf map[int]int // userID -> groupID of the latest group joined
	nextID   int

	capacity  int
	threshold int
	logs      LogRegistrar
	now       func() time.Time
}

type Option func(*Registry)

func WithCapacity(n int) Option {
	return func(r *Registry) { r.capacity = n }
}

// WithStartThreshold sets how many members flip a waiting group to ready.
func WithStartThreshold(n int) Option {
	return func(r *Registry) { r.threshold = n }
}

func WithLogRegistrar(l LogRegistrar) Option {
	return func(r *Registry) { r.logs = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byID:      make(map[int]*group),
		memberOf:  make(map[int]int),
		nextID:    1,
		capacity:  DefaultCapacity,
		threshold: DefaultStartThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.threshold > r.capacity {
		r.threshold = r.capacity
	}
	return r
}

func (r *Registry) Capacity() int {
	return r.capacity
}

// FindOrCreateGroup returns the first waiting group of category with a free seat, creating
// a new one if none exists.
func (r *Registry) FindOrCreateGroup(category string) (Group, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return Group{}, apperr.InvalidInput(apperr.CodeCategoryInvalid, "category is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.findOrCreateLocked(category).snapshot(), nil
}

// JoinGroup places userID into a group of category. A user who already belongs to a group
// that is not finished gets that group back unchanged with joined == false.
func (r *Registry) JoinGroup(userID int, category string) (Group, bool, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return Group{}, false, apperr.InvalidInput(apperr.CodeCategoryInvalid, "category is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.memberOf[userID]; ok {
		current := r.byID[id]
		current.mu.Lock()
		if current.status != StatusFinished {
			snap := current.snapshotLocked()
			current.mu.Unlock()
			return snap, false, nil
		}
		current.mu.Unlock()
		delete(r.memberOf, userID)
	}

	g := r.findOrCreateLocked(category)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.members = append(g.members, userID)
	g.scores[userID] = 0
	g.updatedAt = r.now().UTC()
	if g.status == StatusWaiting && len(g.members) >= r.threshold {
		g.status = StatusReady
		log.Printf("Group %d (%s) is ready with %d members", g.id, g.category, len(g.members))
	}
	r.memberOf[userID] = g.id

	return g.snapshotLocked(), true, nil
}

func (r *Registry) findOrCreateLocked(category string) *group {
	for _, g := range r.groups {
		if g.category != category {
			continue
		}
		g.mu.Lock()
		open := g.status == StatusWaiting && len(g.members) < r.capacity
		g.mu.Unlock()
		if open {
			return g
		}
	}

	now := r.now().UTC()
	g := &group{
		id:        r.nextID,
		category:  category,
		members:   make([]int, 0, r.capacity),
		status:    StatusWaiting,
		scores:    make(map[int]int),
		createdAt: now,
		updatedAt: now,
	}
	r.nextID++
	r.groups = append(r.groups, g)
	r.byID[g.id] = g
	if r.logs != nil {
		r.logs.Open(g.id)
	}
	log.Printf("Created group %d for category %s", g.id, category)
	return g
}

func (r *Registry) lookup(groupID int) (*group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[groupID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeGroupNotFound, "group %d not found", groupID)
	}
	return g, nil
}

// RecordScore overwrites the member's latest quiz score.
func (r *Registry) RecordScore(userID, groupID, score int) error {
	g, err := r.lookup(groupID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.scores[userID]; !ok {
		return apperr.NotFound(apperr.CodeNotInGroup, "user %d is not a member of group %d", userID, groupID)
	}
	g.scores[userID] = score
	g.updatedAt = r.now().UTC()
	return nil
}

// SetStatus moves a group forward in its lifecycle: ready -> playing -> finished, or
// straight to finished. Anything else is a Conflict.
func (r *Registry) SetStatus(groupID int, status Status) (Group, error) {
	g, err := r.lookup(groupID)
	if err != nil {
		return Group{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !canTransition(g.status, status) {
		return Group{}, apperr.Conflict(apperr.CodeInvalidTransition,
			"group %d cannot move from %s to %s", groupID, g.status, status)
	}
	g.status = status
	g.updatedAt = r.now().UTC()
	return g.snapshotLocked(), nil
}

func (r *Registry) Group(groupID int) (Group, error) {
	g, err := r.lookup(groupID)
	if err != nil {
		return Group{}, err
	}
	return g.snapshot(), nil
}

// Groups returns snapshots of every group in creation order.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.snapshot())
	}
	return out
}

// ActiveGroupCount counts groups that are not finished. An empty category counts all of them.
func (r *Registry) ActiveGroupCount(category string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, g := range r.groups {
		if category != "" && g.category != category {
			continue
		}
		g.mu.Lock()
		if g.status != StatusFinished {
			n++
		}
		g.mu.Unlock()
	}
	return n
}
