package friends

import (
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
)

// EventType names a friendship change.
type EventType string

const (
	EventRequested EventType = "friend.requested"
	EventResponded EventType = "friend.responded"
	EventRemoved   EventType = "friend.removed"
)

// Event describes a persisted change to one user's friend relation.
type Event struct {
	Type        EventType            `json:"type"`
	UserEmail   string               `json:"userEmail"`
	FriendEmail string               `json:"friendEmail"`
	Status      catalog.FriendStatus `json:"status,omitempty"`
	OccurredAt  time.Time            `json:"occurredAt"`
}

// Notifier receives an Event after each persisted write. Implementations must not block.
type Notifier interface {
	Notify(event Event)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Event) {}
