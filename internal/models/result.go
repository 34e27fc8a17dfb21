package models

import "time"

// BroadcastResult is the durable statistics snapshot of a broadcast.
type BroadcastResult struct {
	BroadcastID  uint       `gorm:"primaryKey;autoIncrement:false" json:"broadcast_id"`
	TotalViews   int        `gorm:"not null;default:0" json:"total_views"`
	MaxViews     int        `gorm:"not null;default:0" json:"max_views"`
	MaxViewsAt   *time.Time `json:"max_views_at,omitempty"`
	TotalLikes   int        `gorm:"not null;default:0" json:"total_likes"`
	TotalChats   int        `gorm:"not null;default:0" json:"total_chats"`
	TotalSales   int64      `gorm:"not null;default:0" json:"total_sales"`
	TotalReports int        `gorm:"not null;default:0" json:"total_reports"`
	AvgWatchTime int        `gorm:"not null;default:0" json:"avg_watch_time"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ResultStats is one observation of the counters, ready to be merged.
type ResultStats struct {
	Views        int
	Likes        int
	Reports      int
	Chats        int
	Sales        int64
	MaxViews     int
	MaxViewsAt   *time.Time
	AvgWatchTime int
}

// Merge folds an observation into the snapshot keeping the larger value of
// every counter. The peak timestamp follows the peak that wins.
func (r *BroadcastResult) Merge(s ResultStats) {
	r.TotalViews = max(r.TotalViews, s.Views)
	r.TotalLikes = max(r.TotalLikes, s.Likes)
	r.TotalReports = max(r.TotalReports, s.Reports)
	r.TotalChats = max(r.TotalChats, s.Chats)
	r.TotalSales = max(r.TotalSales, s.Sales)
	r.AvgWatchTime = max(r.AvgWatchTime, s.AvgWatchTime)
	switch {
	case s.MaxViews > r.MaxViews:
		r.MaxViews = s.MaxViews
		r.MaxViewsAt = s.MaxViewsAt
	case s.MaxViews == r.MaxViews && r.MaxViewsAt == nil:
		r.MaxViewsAt = s.MaxViewsAt
	}
}

// ApplyVodStatsDelta adds VOD-phase reactions, never going below zero.
func (r *BroadcastResult) ApplyVodStatsDelta(d VodStatsDelta) {
	r.TotalViews = max(0, r.TotalViews+d.Views)
	r.TotalLikes = max(0, r.TotalLikes+d.Likes)
	r.TotalReports = max(0, r.TotalReports+d.Reports)
}

// VodStatsDelta holds reactions accumulated since the last flush.
type VodStatsDelta struct {
	Views   int
	Likes   int
	Reports int
}

// IsZero reports whether there is nothing to flush.
func (d VodStatsDelta) IsZero() bool {
	return d.Views == 0 && d.Likes == 0 && d.Reports == 0
}
