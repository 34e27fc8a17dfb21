package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"
	"livecommerce/internal/repository"
	"livecommerce/internal/storage"
)

// VodRemover deletes a VOD asset and marks the row deleted.
type VodRemover interface {
	Remove(ctx context.Context, v *models.Vod) error
}

// VodDeps are the collaborators of VodService.
type VodDeps struct {
	Broadcasts repository.BroadcastRepository
	Vods       repository.VodRepository
	Counters   *livecounter.Store
	Store      storage.ObjectStore
	Remover    VodRemover
}

// VodService serves replays. VODs are addressed by their broadcast id.
type VodService struct {
	VodDeps
}

// NewVodService returns a VodService.
func NewVodService(deps VodDeps) *VodService {
	return &VodService{VodDeps: deps}
}

// VodStream is an open byte range of a VOD asset.
type VodStream struct {
	Body    io.ReadCloser
	Start   int64
	End     int64
	Size    int64
	Partial bool
}

// ContentLength is the number of bytes in the range.
func (s *VodStream) ContentLength() int64 { return s.End - s.Start + 1 }

// ContentRange is the Content-Range header value of a partial response.
func (s *VodStream) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, s.Size)
}

// RecordVodView counts a replay viewer once per viewer id.
func (s *VodService) RecordVodView(ctx context.Context, broadcastID uint, viewer Viewer) (bool, error) {
	if _, err := s.publicVod(ctx, broadcastID); err != nil {
		return false, err
	}
	id := viewer.id()
	if id == "" {
		return false, models.NewValidationError("viewer id is required")
	}
	counted, err := s.Counters.RecordVodView(ctx, broadcastID, id)
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return counted, nil
}

// ToggleVodLike flips a member's like on the replay.
func (s *VodService) ToggleVodLike(ctx context.Context, broadcastID, memberID uint) (*ReactionResult, error) {
	if _, err := s.publicVod(ctx, broadcastID); err != nil {
		return nil, err
	}
	liked, err := s.Counters.ToggleVodLike(ctx, broadcastID, memberID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &ReactionResult{Active: liked}, nil
}

// ReportVod files a member's report against the replay, once per member.
func (s *VodService) ReportVod(ctx context.Context, broadcastID, memberID uint) (*ReactionResult, error) {
	if _, err := s.publicVod(ctx, broadcastID); err != nil {
		return nil, err
	}
	added, err := s.Counters.ReportVod(ctx, broadcastID, memberID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &ReactionResult{Active: added}, nil
}

// ChangeVisibility lets the seller publish or hide a replay. Replays locked
// by an admin stay as they are.
func (s *VodService) ChangeVisibility(ctx context.Context, sellerID, broadcastID uint, status models.VodStatus) (*models.Vod, error) {
	if status != models.VodPublic && status != models.VodPrivate {
		return nil, models.NewValidationError("visibility must be PUBLIC or PRIVATE")
	}
	v, err := s.ownedVod(ctx, sellerID, broadcastID)
	if err != nil {
		return nil, err
	}
	if v.VodAdminLock {
		return nil, models.NewForbiddenError("vod visibility is locked by an administrator")
	}
	v.Status = status
	if err := s.Vods.Save(ctx, v); err != nil {
		return nil, models.NewInternalError(err)
	}
	return v, nil
}

// SetAdminLock hides a replay and keeps the seller from publishing it again,
// or lifts that lock.
func (s *VodService) SetAdminLock(ctx context.Context, broadcastID uint, locked bool) (*models.Vod, error) {
	v, err := s.liveVod(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	v.VodAdminLock = locked
	if locked {
		v.Status = models.VodPrivate
	}
	if err := s.Vods.Save(ctx, v); err != nil {
		return nil, models.NewInternalError(err)
	}
	return v, nil
}

// DeleteVod removes the stored asset and marks the replay deleted.
func (s *VodService) DeleteVod(ctx context.Context, sellerID, broadcastID uint) error {
	v, err := s.ownedVod(ctx, sellerID, broadcastID)
	if err != nil {
		return err
	}
	if err := s.Remover.Remove(ctx, v); err != nil {
		return err
	}
	observability.GlobalLogger.InfoContext(ctx, "vod deleted by seller",
		"broadcast_id", broadcastID, "seller_id", sellerID)
	return nil
}

// StreamVod opens the replay asset for the given Range header. An empty
// header streams the whole object.
func (s *VodService) StreamVod(ctx context.Context, broadcastID uint, rangeHeader string) (*VodStream, error) {
	v, err := s.publicVod(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if s.Store == nil || v.VodURL == "" {
		return nil, models.NewNotFoundError("vod asset", broadcastID)
	}

	size, err := s.Store.GetObjectSize(ctx, v.VodURL)
	if err != nil {
		return nil, models.NewStorageError("stat vod object", err)
	}
	start, end, partial, err := ParseByteRange(rangeHeader, size)
	if err != nil {
		return nil, err
	}
	body, err := s.Store.GetObjectRange(ctx, v.VodURL, start, end)
	if err != nil {
		return nil, models.NewStorageError("read vod object", err)
	}
	return &VodStream{Body: body, Start: start, End: end, Size: size, Partial: partial}, nil
}

// ParseByteRange resolves a single "bytes=" range against size. Multi-range
// requests are served from the first range.
func ParseByteRange(header string, size int64) (start, end int64, partial bool, err error) {
	if header == "" || size == 0 {
		return 0, max(size-1, 0), false, nil
	}
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return 0, 0, false, models.NewValidationError("unsupported range unit")
	}
	spec, _, _ = strings.Cut(spec, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, false, models.NewValidationError("malformed range")
	}

	switch {
	case first == "":
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, false, models.NewValidationError("malformed range")
		}
		start = max(size-n, 0)
		end = size - 1
	default:
		start, err = strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 {
			return 0, 0, false, models.NewValidationError("malformed range")
		}
		end = size - 1
		if last != "" {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil || end < start {
				return 0, 0, false, models.NewValidationError("malformed range")
			}
			end = min(end, size-1)
		}
	}
	if start >= size {
		return 0, 0, false, models.NewValidationError("range not satisfiable")
	}
	return start, end, true, nil
}

// publicVod returns the replay of a broadcast in VOD status when it is public.
func (s *VodService) publicVod(ctx context.Context, broadcastID uint) (*models.Vod, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusVod {
		return nil, models.NewNotFoundError("vod", broadcastID)
	}
	v, err := s.liveVod(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if v.Status != models.VodPublic {
		return nil, models.NewNotFoundError("vod", broadcastID)
	}
	return v, nil
}

func (s *VodService) ownedVod(ctx context.Context, sellerID, broadcastID uint) (*models.Vod, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(b, sellerID); err != nil {
		return nil, err
	}
	return s.liveVod(ctx, broadcastID)
}

// liveVod returns the existing, not deleted VOD of a broadcast.
func (s *VodService) liveVod(ctx context.Context, broadcastID uint) (*models.Vod, error) {
	state, err := s.Vods.GetByBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !state.Exists() || state.Vod.Status == models.VodDeleted {
		return nil, models.NewNotFoundError("vod", broadcastID)
	}
	return state.Vod, nil
}
