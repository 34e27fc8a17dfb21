package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/observability"

	"github.com/google/uuid"
)

// SessionAccess is what a client needs to connect to the media session.
type SessionAccess struct {
	BroadcastID uint   `json:"broadcast_id"`
	SessionID   string `json:"session_id,omitempty"`
	Token       string `json:"token,omitempty"`
	ViewerID    string `json:"viewer_id,omitempty"`
}

// Viewer identifies who is watching. MemberID is zero for anonymous viewers.
type Viewer struct {
	MemberID uint
	ViewerID string
}

// id returns the presence identity of the viewer.
func (v Viewer) id() string {
	if v.MemberID != 0 {
		return strconv.FormatUint(uint64(v.MemberID), 10)
	}
	return v.ViewerID
}

// ReactionResult is the outcome of a like or report.
type ReactionResult struct {
	Active bool  `json:"active"`
	Count  int64 `json:"count"`
}

// StartBroadcast puts a READY broadcast on air and returns a host token.
// Calling it again while on air hands out a fresh token.
func (s *BroadcastService) StartBroadcast(ctx context.Context, sellerID, broadcastID uint) (*SessionAccess, error) {
	lock, err := lockTransition(ctx, s.Locker, broadcastID, s.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return nil, err
	}

	if b.Status == models.StatusOnAir {
		return s.hostAccess(ctx, b)
	}
	if b.Status == models.StatusStopped {
		return nil, models.NewStoppedByAdminError()
	}
	if b.Status != models.StatusReady {
		return nil, models.NewInvalidTransitionError(b.Status, models.StatusOnAir)
	}
	now := s.now()
	if now.Before(b.ScheduledAt) {
		return nil, models.NewValidationError("the broadcast cannot start before its scheduled time")
	}

	sessionID, err := s.Provider.CreateSession(ctx, b.SessionID())
	if err != nil {
		return nil, providerErr("failed to create the media session", err)
	}
	if err := transition(b, models.StatusOnAir, models.TransitionOpts{StreamKey: sessionID, At: now}); err != nil {
		return nil, err
	}
	if err := s.Broadcasts.Save(ctx, b); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := s.Prices.Apply(ctx, b.ID); err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to apply live prices",
			"broadcast_id", b.ID, "error", err)
	}

	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastStarted, nil)
	return s.hostAccess(ctx, b)
}

func (s *BroadcastService) hostAccess(ctx context.Context, b *models.Broadcast) (*SessionAccess, error) {
	data := fmt.Sprintf(`{"role":"HOST","sellerId":%d}`, b.SellerID)
	token, err := s.Provider.CreateAccessToken(ctx, b.StreamKey, recordingRole(true), data)
	if err != nil {
		return nil, providerErr("failed to create a host token", err)
	}
	return &SessionAccess{BroadcastID: b.ID, SessionID: b.StreamKey, Token: token}, nil
}

// JoinBroadcast admits a viewer tab. Anonymous viewers get a generated id
// which they must send back when leaving.
func (s *BroadcastService) JoinBroadcast(ctx context.Context, broadcastID uint, viewer Viewer) (*SessionAccess, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusStopped {
		return nil, models.NewStoppedByAdminError()
	}
	if !b.Status.IsLive() {
		return nil, models.NewNotOnAirError(b.Status)
	}

	viewerID := viewer.id()
	if viewerID == "" {
		viewerID = uuid.NewString()
	}
	sanctioned, err := s.Counters.IsSanctioned(ctx, broadcastID, viewerID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if sanctioned {
		return nil, models.NewViewerSanctionedError()
	}

	tabs, err := s.Counters.Enter(ctx, broadcastID, viewerID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if tabs == 1 {
		if err := s.Views.Enter(ctx, broadcastID, viewerID, s.now()); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to record view entry",
				"broadcast_id", broadcastID, "viewer_id", viewerID, "error", err)
		}
	}
	s.afterPresenceChange(ctx, b)

	access := &SessionAccess{BroadcastID: b.ID, ViewerID: viewerID}
	if b.Status == models.StatusOnAir && b.StreamKey != "" {
		data := fmt.Sprintf(`{"role":"VIEWER","viewerId":%q}`, viewerID)
		token, err := s.Provider.CreateAccessToken(ctx, b.StreamKey, recordingRole(false), data)
		if err != nil {
			return nil, providerErr("failed to create a viewer token", err)
		}
		access.SessionID = b.StreamKey
		access.Token = token
	}
	return access, nil
}

// LeaveBroadcast closes one viewer tab. The view history closes with the last tab.
func (s *BroadcastService) LeaveBroadcast(ctx context.Context, broadcastID uint, viewerID string) error {
	if viewerID == "" {
		return models.NewValidationError("viewer id is required")
	}
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	left, err := s.Counters.Exit(ctx, broadcastID, viewerID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if left <= 0 {
		if err := s.Views.Exit(ctx, broadcastID, viewerID, s.now()); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to record view exit",
				"broadcast_id", broadcastID, "viewer_id", viewerID, "error", err)
		}
	}
	s.afterPresenceChange(ctx, b)
	return nil
}

func (s *BroadcastService) afterPresenceChange(ctx context.Context, b *models.Broadcast) {
	if b.Status == models.StatusOnAir {
		if _, err := s.Counters.UpdatePeak(ctx, b.ID); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to update peak viewers",
				"broadcast_id", b.ID, "error", err)
		}
	}
	count, err := s.Counters.Realtime(ctx, b.ID)
	if err != nil {
		return
	}
	observability.RealtimeViewers.WithLabelValues(strconv.FormatUint(uint64(b.ID), 10)).Set(float64(count))
	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventViewerCount, map[string]int64{"viewers": count})
}

// EndBroadcast ends an on-air broadcast at the seller's request.
func (s *BroadcastService) EndBroadcast(ctx context.Context, sellerID, broadcastID uint) error {
	lock, err := lockTransition(ctx, s.Locker, broadcastID, s.settings.LockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return err
	}
	if err := s.endLive(ctx, b); err != nil {
		return err
	}

	s.Recorder.ScheduleFinalize(ctx, b.ID, "manual_end")
	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastEnded, nil)
	return nil
}

// endLive moves the broadcast to ENDED and releases the media session.
func (s *BroadcastService) endLive(ctx context.Context, b *models.Broadcast) error {
	now := s.now()
	if err := transition(b, models.StatusEnded, models.TransitionOpts{At: now}); err != nil {
		return err
	}
	if err := s.Broadcasts.Save(ctx, b); err != nil {
		return models.NewInternalError(err)
	}
	if err := s.Views.CloseActive(ctx, b.ID, now); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to close view histories",
			"broadcast_id", b.ID, "error", err)
	}
	if err := s.Provider.StopRecording(ctx, b.SessionID()); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to stop recording",
			"broadcast_id", b.ID, "error", err)
	}
	if err := s.Provider.CloseSession(ctx, b.SessionID()); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to close media session",
			"broadcast_id", b.ID, "error", err)
	}
	return nil
}

// StartRecording asks the provider to record an on-air broadcast.
func (s *BroadcastService) StartRecording(ctx context.Context, sellerID, broadcastID uint) error {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return err
	}
	if b.Status != models.StatusOnAir {
		return models.NewNotOnAirError(b.Status)
	}
	return s.Recorder.StartRecording(ctx, b, "seller_request")
}

// HandleStreamCreated starts the recording once the seller's stream shows up.
func (s *BroadcastService) HandleStreamCreated(ctx context.Context, sessionID string) error {
	broadcastID, ok := models.ParseSessionID(sessionID)
	if !ok {
		return nil
	}
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Status != models.StatusOnAir {
		return nil
	}
	return s.Recorder.StartRecording(ctx, b, "stream_created")
}

// ToggleLike flips a member's like on a live broadcast.
func (s *BroadcastService) ToggleLike(ctx context.Context, broadcastID, memberID uint) (*ReactionResult, error) {
	if _, err := s.onAir(ctx, broadcastID); err != nil {
		return nil, err
	}
	liked, count, err := s.Counters.ToggleLike(ctx, broadcastID, memberID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	notifications.PublishBestEffort(ctx, s.Events, broadcastID, notifications.EventLikeCount, map[string]int64{"likes": count})
	return &ReactionResult{Active: liked, Count: count}, nil
}

// Report files a member's report against a live broadcast, once per member.
func (s *BroadcastService) Report(ctx context.Context, broadcastID, memberID uint) (*ReactionResult, error) {
	if _, err := s.onAir(ctx, broadcastID); err != nil {
		return nil, err
	}
	added, count, err := s.Counters.Report(ctx, broadcastID, memberID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if added {
		notifications.PublishBestEffort(ctx, s.Events, broadcastID, notifications.EventReportCount, map[string]int64{"reports": count})
	}
	return &ReactionResult{Active: true, Count: count}, nil
}

// RecordChat counts one chat message.
func (s *BroadcastService) RecordChat(ctx context.Context, broadcastID uint) (int64, error) {
	if _, err := s.onAir(ctx, broadcastID); err != nil {
		return 0, err
	}
	n, err := s.Counters.RecordChat(ctx, broadcastID)
	if err != nil {
		return 0, models.NewInternalError(err)
	}
	return n, nil
}

// IsSanctioned reports whether viewerID is barred from the broadcast.
func (s *BroadcastService) IsSanctioned(ctx context.Context, broadcastID uint, viewerID string) (bool, error) {
	return s.Counters.IsSanctioned(ctx, broadcastID, viewerID)
}

func (s *BroadcastService) onAir(ctx context.Context, broadcastID uint) (*models.Broadcast, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusStopped {
		return nil, models.NewStoppedByAdminError()
	}
	if b.Status != models.StatusOnAir {
		return nil, models.NewNotOnAirError(b.Status)
	}
	return b, nil
}

// MarkProductSoldOut reacts to a product selling out: live broadcasts carrying
// it go back to the original price and flag the product as sold out.
func (s *BroadcastService) MarkProductSoldOut(ctx context.Context, productID uint) error {
	ids, err := s.Broadcasts.FindOnAirIDsByProduct(ctx, productID)
	if err != nil {
		return models.NewInternalError(err)
	}
	if err := s.Prices.RestoreProduct(ctx, productID); err != nil {
		return models.NewInternalError(err)
	}
	for _, id := range ids {
		if err := s.Broadcasts.UpdateProductStatus(ctx, id, productID, models.BroadcastProductSoldOut); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to flag sold-out product",
				"broadcast_id", id, "product_id", productID, "error", err)
			continue
		}
		notifications.PublishBestEffort(ctx, s.Events, id, notifications.EventProductSoldOut,
			map[string]uint{"product_id": productID})
	}
	return nil
}

// BroadcastStats is the statistics view of a broadcast. Realtime is set when
// the numbers come from the live counters instead of the stored result.
type BroadcastStats struct {
	BroadcastID  uint                   `json:"broadcast_id"`
	Status       models.BroadcastStatus `json:"status"`
	Realtime     bool                   `json:"realtime"`
	Viewers      int64                  `json:"viewers"`
	TotalViews   int                    `json:"total_views"`
	Likes        int                    `json:"likes"`
	Reports      int                    `json:"reports"`
	Chats        int                    `json:"chats"`
	MaxViews     int                    `json:"max_views"`
	MaxViewsAt   *time.Time             `json:"max_views_at,omitempty"`
	AvgWatchTime int                    `json:"avg_watch_time"`
	Sales        int64                  `json:"sales"`
	ProductSales map[uint]int64         `json:"product_sales"`
	IsEncoding   bool                   `json:"is_encoding"`
	Vod          *models.Vod            `json:"vod,omitempty"`
}

// GetBroadcastStats returns live numbers while the counters are authoritative
// and the stored snapshot afterwards.
func (s *BroadcastService) GetBroadcastStats(ctx context.Context, broadcastID uint) (*BroadcastStats, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	out := &BroadcastStats{BroadcastID: b.ID, Status: b.Status, ProductSales: map[uint]int64{}}

	switch b.Status {
	case models.StatusReady, models.StatusOnAir, models.StatusEnded:
		stats, err := s.Snapshots.Aggregate(ctx, b)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		viewers, err := s.Counters.Realtime(ctx, b.ID)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		out.Realtime = true
		out.Viewers = viewers
		fillFromStats(out, stats)
	default:
		res, err := s.Results.Get(ctx, b.ID)
		switch {
		case err == nil:
			fillFromResult(out, res)
		case !models.IsCode(err, models.CodeNotFound):
			return nil, err
		}
	}

	sales, err := s.Snapshots.ProductSales(ctx, b)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if sales != nil {
		out.ProductSales = sales
	}

	state, err := s.Vods.GetByBroadcast(ctx, b.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if state.Exists() {
		out.Vod = state.Vod
	}
	out.IsEncoding = encodingFor(b.Status, state)
	return out, nil
}

func (s *BroadcastService) isEncoding(ctx context.Context, b *models.Broadcast) (bool, error) {
	switch b.Status {
	case models.StatusEnded, models.StatusStopped, models.StatusVod:
	default:
		return false, nil
	}
	state, err := s.Vods.GetByBroadcast(ctx, b.ID)
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return encodingFor(b.Status, state), nil
}

// encodingFor is true while a finished broadcast still waits for its VOD.
func encodingFor(status models.BroadcastStatus, state models.VodState) bool {
	switch status {
	case models.StatusEnded, models.StatusStopped, models.StatusVod:
		return !state.Exists()
	}
	return false
}

func fillFromStats(out *BroadcastStats, st models.ResultStats) {
	out.TotalViews = st.Views
	out.Likes = st.Likes
	out.Reports = st.Reports
	out.Chats = st.Chats
	out.MaxViews = st.MaxViews
	out.MaxViewsAt = st.MaxViewsAt
	out.AvgWatchTime = st.AvgWatchTime
	out.Sales = st.Sales
}

func fillFromResult(out *BroadcastStats, r *models.BroadcastResult) {
	out.TotalViews = r.TotalViews
	out.Likes = r.TotalLikes
	out.Reports = r.TotalReports
	out.Chats = r.TotalChats
	out.MaxViews = r.MaxViews
	out.MaxViewsAt = r.MaxViewsAt
	out.AvgWatchTime = r.AvgWatchTime
	out.Sales = r.TotalSales
}

// SaveMediaConfig stores the seller's device setup for the broadcast.
func (s *BroadcastService) SaveMediaConfig(ctx context.Context, sellerID, broadcastID uint, cfg livecounter.MediaConfig) error {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return err
	}
	if cfg.Volume < 0 || cfg.Volume > 100 {
		return models.NewValidationError("volume must be between 0 and 100")
	}
	if err := s.Counters.SaveMediaConfig(ctx, broadcastID, sellerID, cfg); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// GetMediaConfig returns the saved setup, or nil when nothing was saved.
func (s *BroadcastService) GetMediaConfig(ctx context.Context, sellerID, broadcastID uint) (*livecounter.MediaConfig, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return nil, err
	}
	cfg, ok, err := s.Counters.GetMediaConfig(ctx, broadcastID, sellerID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}
