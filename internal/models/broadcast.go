// Package models contains the durable records of the broadcast engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// BroadcastStatus is the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	StatusReserved BroadcastStatus = "RESERVED"
	StatusReady    BroadcastStatus = "READY"
	StatusOnAir    BroadcastStatus = "ON_AIR"
	StatusEnded    BroadcastStatus = "ENDED"
	StatusStopped  BroadcastStatus = "STOPPED"
	StatusCanceled BroadcastStatus = "CANCELED"
	StatusVod      BroadcastStatus = "VOD"
	StatusDeleted  BroadcastStatus = "DELETED"
)

// AllBroadcastStatuses lists every status in declaration order.
var AllBroadcastStatuses = []BroadcastStatus{
	StatusReserved, StatusReady, StatusOnAir, StatusEnded,
	StatusStopped, StatusCanceled, StatusVod, StatusDeleted,
}

// Valid reports whether s is one of the known statuses.
func (s BroadcastStatus) Valid() bool {
	for _, known := range AllBroadcastStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsLive reports whether viewers may be inside the broadcast.
func (s BroadcastStatus) IsLive() bool {
	return s == StatusReady || s == StatusOnAir
}

// CanTransition is the complete transition graph. Self-transitions are never allowed.
func CanTransition(from, to BroadcastStatus) bool {
	switch from {
	case StatusReserved:
		return to == StatusReady || to == StatusCanceled || to == StatusDeleted
	case StatusCanceled:
		return to == StatusReserved || to == StatusDeleted
	case StatusReady:
		return to == StatusOnAir || to == StatusCanceled || to == StatusStopped
	case StatusOnAir:
		return to == StatusEnded || to == StatusStopped
	case StatusEnded:
		return to == StatusVod || to == StatusStopped
	case StatusStopped:
		return to == StatusVod
	default:
		return false
	}
}

// Broadcast is one scheduled live-commerce session owned by a seller.
type Broadcast struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SellerID      uint            `gorm:"not null;index" json:"seller_id"`
	CategoryID    uint            `gorm:"index" json:"category_id"`
	Title         string          `gorm:"size:255;not null" json:"title"`
	Notice        string          `gorm:"type:text" json:"notice"`
	ThumbnailURL  string          `gorm:"size:500" json:"thumbnail_url"`
	WaitScreenURL string          `gorm:"size:500" json:"wait_screen_url"`
	Layout        string          `gorm:"size:50" json:"layout"`
	Status        BroadcastStatus `gorm:"size:20;not null;index" json:"status"`
	ScheduledAt   time.Time       `gorm:"not null;index" json:"scheduled_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	StreamKey     string          `gorm:"size:100" json:"stream_key,omitempty"`
	StoppedReason string          `gorm:"type:text" json:"stopped_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TransitionOpts carries the data some transitions must stamp.
type TransitionOpts struct {
	Reason    string
	StreamKey string
	At        time.Time
}

// TransitionTo is the only way a broadcast changes status.
func (b *Broadcast) TransitionTo(to BroadcastStatus, opts TransitionOpts) error {
	from := b.Status
	if !CanTransition(from, to) {
		return NewInvalidTransitionError(from, to)
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}

	switch to {
	case StatusStopped, StatusCanceled:
		reason := strings.TrimSpace(opts.Reason)
		if reason == "" {
			return NewValidationError(fmt.Sprintf("a reason is required to move a broadcast to %s", to))
		}
		b.StoppedReason = reason
		if to == StatusStopped {
			b.EndedAt = &at
		}
	case StatusOnAir:
		if opts.StreamKey == "" {
			return NewValidationError("a provider session is required to go on air")
		}
		b.StreamKey = opts.StreamKey
		b.StartedAt = &at
	case StatusEnded:
		b.EndedAt = &at
	case StatusReserved:
		b.StoppedReason = ""
	}

	b.Status = to
	return nil
}

// SessionID is the provider session name for this broadcast.
func (b *Broadcast) SessionID() string {
	return SessionIDFor(b.ID)
}

// SessionIDFor formats the provider session name for a broadcast id.
func SessionIDFor(broadcastID uint) string {
	return fmt.Sprintf("broadcast-%d", broadcastID)
}

// ParseSessionID extracts the broadcast id from a provider session name.
func ParseSessionID(sessionID string) (uint, bool) {
	raw, ok := strings.CutPrefix(sessionID, "broadcast-")
	if !ok || raw == "" {
		return 0, false
	}
	var id uint
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil || id == 0 {
		return 0, false
	}
	if fmt.Sprintf("%d", id) != raw {
		return 0, false
	}
	return id, true
}

// Qcard is a seller prepared cue card shown during the broadcast.
type Qcard struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	BroadcastID uint   `gorm:"not null;index" json:"broadcast_id"`
	Question    string `gorm:"type:text;not null" json:"question"`
	SortOrder   int    `gorm:"not null" json:"sort_order"`
}
