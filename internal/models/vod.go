package models

import "time"

// VodStatus is the visibility of a finalized recording.
type VodStatus string

const (
	VodPublic  VodStatus = "PUBLIC"
	VodPrivate VodStatus = "PRIVATE"
	VodDeleted VodStatus = "DELETED"
)

// Vod is the finalized recording of a broadcast. At most one per broadcast.
type Vod struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BroadcastID    uint      `gorm:"not null;uniqueIndex" json:"broadcast_id"`
	VodURL         string    `gorm:"size:1000" json:"vod_url,omitempty"`
	VodSize        int64     `gorm:"not null;default:0" json:"vod_size"`
	VodDuration    int       `gorm:"not null;default:0" json:"vod_duration"`
	Status         VodStatus `gorm:"size:20;not null" json:"status"`
	VodAdminLock   bool      `gorm:"not null;default:false" json:"vod_admin_lock"`
	VodReportCount int       `gorm:"not null;default:0" json:"vod_report_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MarkDeleted hides the VOD and drops its asset pointer.
func (v *Vod) MarkDeleted() {
	v.Status = VodDeleted
	v.VodURL = ""
	v.VodSize = 0
}

// ApplyReportDelta adjusts the report counter, clamped at zero.
func (v *Vod) ApplyReportDelta(delta int) {
	v.VodReportCount = max(0, v.VodReportCount+delta)
}

// VodKind distinguishes a finalized VOD from one that does not exist yet.
type VodKind int

const (
	VodNotCreated VodKind = iota
	VodCreated
)

// VodState is the result of looking up a broadcast's VOD.
type VodState struct {
	Kind VodKind
	Vod  *Vod
}

// NoVod is the state of a broadcast whose recording was never finalized.
func NoVod() VodState { return VodState{Kind: VodNotCreated} }

// HasVod wraps an existing VOD.
func HasVod(v *Vod) VodState { return VodState{Kind: VodCreated, Vod: v} }

// Exists reports whether the VOD was created.
func (s VodState) Exists() bool { return s.Kind == VodCreated && s.Vod != nil }

// Status returns the visibility, or "" when no VOD exists.
func (s VodState) Status() VodStatus {
	if !s.Exists() {
		return ""
	}
	return s.Vod.Status
}
