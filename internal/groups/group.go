package groups

import (
	"maps"
	"slices"
	"sync"
	"time"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusReady    Status = "ready"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Group is a point-in-time copy of a study group. Mutating it does not affect the registry.
type Group struct {
	ID        int         `json:"id"`
	Category  string      `json:"category"`
	Members   []int       `json:"members"`
	Status    Status      `json:"status"`
	Scores    map[int]int `json:"scores"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IsMember reports whether userID belongs to the group.
func (g Group) IsMember(userID int) bool {
	return slices.Contains(g.Members, userID)
}

// group is the registry's live record. Members only change while the registry lock is
// held as well, scores and status only need mu.
type group struct {
	mu sync.Mutex

	id        int
	category  string
	members   []int
	status    Status
	scores    map[int]int
	createdAt time.Time
	updatedAt time.Time
}

func (g *group) snapshotLocked() Group {
	return Group{
		ID:        g.id,
		Category:  g.category,
		Members:   slices.Clone(g.members),
		Status:    g.status,
		Scores:    maps.Clone(g.scores),
		CreatedAt: g.createdAt,
		UpdatedAt: g.updatedAt,
	}
}

func (g *group) snapshot() Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// canTransition lists the allowed status moves. Finished is reachable from anywhere and
// nothing leaves it.
func canTransition(from, to Status) bool {
	if from == StatusFinished {
		return false
	}
	switch to {
	case StatusFinished:
		return true
	case StatusReady:
		return from == StatusWaiting
	case StatusPlaying:
		return from == StatusReady
	default:
		return false
	}
}
