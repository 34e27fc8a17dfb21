package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"livecommerce/internal/admission"
	"livecommerce/internal/cache"
	"livecommerce/internal/livecounter"
	"livecommerce/internal/models"
	"livecommerce/internal/notifications"
	"livecommerce/internal/recording"
	"livecommerce/internal/repository"
	"livecommerce/internal/validation"

	"github.com/redis/go-redis/v9"
)

// BroadcastDeps wires a BroadcastService.
type BroadcastDeps struct {
	Broadcasts repository.BroadcastRepository
	Products   repository.ProductRepository
	Results    repository.ResultRepository
	Vods       repository.VodRepository
	Views      repository.ViewHistoryRepository
	Gate       Admitter
	Counters   *livecounter.Store
	Prices     PriceOverlay
	Provider   recording.Provider
	Recorder   Recorder
	Snapshots  Snapshotter
	Events     notifications.Publisher
	Locker     *cache.Locker
	Redis      *redis.Client
}

// BroadcastService implements the seller and viewer side of a broadcast.
type BroadcastService struct {
	BroadcastDeps
	settings Settings
	now      func() time.Time
}

// NewBroadcastService returns a new BroadcastService.
func NewBroadcastService(deps BroadcastDeps, settings Settings) *BroadcastService {
	return &BroadcastService{BroadcastDeps: deps, settings: settings, now: time.Now}
}

// ProductInput pins one catalog product to a broadcast.
type ProductInput struct {
	ProductID  uint   `json:"product_id"`
	BpPrice    *int64 `json:"bp_price,omitempty"`
	BpQuantity int    `json:"bp_quantity"`
	IsPinned   bool   `json:"is_pinned"`
}

// BroadcastInput is what a seller submits when reserving or editing.
type BroadcastInput struct {
	Title         string         `json:"title"`
	Notice        string         `json:"notice"`
	CategoryID    uint           `json:"category_id"`
	ThumbnailURL  string         `json:"thumbnail_url"`
	WaitScreenURL string         `json:"wait_screen_url"`
	Layout        string         `json:"layout"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Products      []ProductInput `json:"products"`
	Qcards        []string       `json:"qcards"`
}

// SlotAvailability is one reservable slot and how many broadcasts still fit.
type SlotAvailability struct {
	Start     time.Time `json:"start"`
	Remaining int       `json:"remaining"`
}

// CreateBroadcast reserves a slot for a new broadcast.
func (s *BroadcastService) CreateBroadcast(ctx context.Context, sellerID uint, in BroadcastInput) (*models.Broadcast, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	products, err := s.buildProducts(ctx, sellerID, in.Products)
	if err != nil {
		return nil, err
	}
	qcards := buildQcards(in.Qcards)

	slot := s.Gate.SlotStart(in.ScheduledAt)
	b := &models.Broadcast{
		SellerID:    sellerID,
		Status:      models.StatusReserved,
		ScheduledAt: slot,
	}
	applyInfo(b, in)

	req := admission.Request{SellerID: sellerID, ScheduledAt: slot, CheckSellerLimit: true}
	err = s.Gate.Admit(ctx, req, func(tx repository.BroadcastRepository) error {
		if err := tx.Create(ctx, b); err != nil {
			return models.NewInternalError(err)
		}
		return writeChildren(ctx, tx, b.ID, products, qcards)
	})
	if err != nil {
		return nil, err
	}

	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastCreated, b)
	return b, nil
}

// UpdateBroadcast edits a broadcast. Reservations may change everything and a
// canceled one comes back as RESERVED; live broadcasts only take info fields.
func (s *BroadcastService) UpdateBroadcast(ctx context.Context, sellerID, broadcastID uint, in BroadcastInput) (*models.Broadcast, error) {
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

	switch b.Status {
	case models.StatusReserved, models.StatusCanceled:
		if err := s.updateReservation(ctx, b, in); err != nil {
			return nil, err
		}
	case models.StatusReady, models.StatusOnAir:
		if err := validateInfo(in); err != nil {
			return nil, err
		}
		applyInfo(b, in)
		if err := s.Broadcasts.Save(ctx, b); err != nil {
			return nil, models.NewInternalError(err)
		}
	default:
		return nil, models.NewValidationError(fmt.Sprintf("a %s broadcast cannot be edited", b.Status))
	}

	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastUpdated, b)
	return b, nil
}

func (s *BroadcastService) updateReservation(ctx context.Context, b *models.Broadcast, in BroadcastInput) error {
	if err := s.validateInput(in); err != nil {
		return err
	}
	products, err := s.buildProducts(ctx, b.SellerID, in.Products)
	if err != nil {
		return err
	}
	qcards := buildQcards(in.Qcards)

	slot := s.Gate.SlotStart(in.ScheduledAt)
	reactivate := b.Status == models.StatusCanceled
	slotChanged := !slot.Equal(b.ScheduledAt.UTC())

	if reactivate {
		if err := transition(b, models.StatusReserved, models.TransitionOpts{At: s.now()}); err != nil {
			return err
		}
	}
	applyInfo(b, in)
	b.ScheduledAt = slot

	write := func(tx repository.BroadcastRepository) error {
		if err := tx.Save(ctx, b); err != nil {
			return models.NewInternalError(err)
		}
		return writeChildren(ctx, tx, b.ID, products, qcards)
	}
	if !reactivate && !slotChanged {
		return s.Broadcasts.Transaction(ctx, write)
	}
	req := admission.Request{SellerID: b.SellerID, ScheduledAt: slot, CheckSellerLimit: reactivate}
	return s.Gate.Admit(ctx, req, write)
}

// CancelBroadcast removes a reservation the seller no longer wants.
func (s *BroadcastService) CancelBroadcast(ctx context.Context, sellerID, broadcastID uint) error {
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
	if err := transition(b, models.StatusDeleted, models.TransitionOpts{At: s.now()}); err != nil {
		return err
	}
	if err := s.Broadcasts.Save(ctx, b); err != nil {
		return models.NewInternalError(err)
	}

	notifications.PublishBestEffort(ctx, s.Events, b.ID, notifications.EventBroadcastDeleted, nil)
	return nil
}

// GetReservableSlots lists the slots of date (UTC) that are still open,
// skipping slots that have already begun.
func (s *BroadcastService) GetReservableSlots(ctx context.Context, date time.Time) ([]SlotAvailability, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	open := day.Add(time.Duration(s.settings.OpenHour) * time.Hour)
	closeAt := day.Add(time.Duration(s.settings.CloseHour) * time.Hour)
	now := s.now()

	out := make([]SlotAvailability, 0)
	for slot := open; slot.Before(closeAt); slot = slot.Add(s.settings.SlotLength) {
		if slot.Before(now) {
			continue
		}
		occupied, err := s.Broadcasts.CountByTimeSlot(ctx, slot, slot.Add(s.settings.SlotLength))
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		if remaining := s.settings.SlotCapacity - int(occupied); remaining > 0 {
			out = append(out, SlotAvailability{Start: slot, Remaining: remaining})
		}
	}
	return out, nil
}

// GetBroadcast returns a broadcast with its products and qcards.
func (s *BroadcastService) GetBroadcast(ctx context.Context, broadcastID uint) (*BroadcastDetail, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	products, err := s.Broadcasts.ListProducts(ctx, broadcastID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	qcards, err := s.Broadcasts.ListQcards(ctx, broadcastID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	encoding, err := s.isEncoding(ctx, b)
	if err != nil {
		return nil, err
	}
	return &BroadcastDetail{Broadcast: b, Products: products, Qcards: qcards, IsEncoding: encoding}, nil
}

// BroadcastDetail is a broadcast with everything attached to it.
type BroadcastDetail struct {
	*models.Broadcast
	Products   []models.BroadcastProduct `json:"products"`
	Qcards     []models.Qcard            `json:"qcards"`
	IsEncoding bool                      `json:"is_encoding"`
}

func (s *BroadcastService) validateInput(in BroadcastInput) error {
	if err := validateInfo(in); err != nil {
		return err
	}
	if in.ScheduledAt.IsZero() {
		return models.NewValidationError("scheduled_at is required")
	}
	slot := s.Gate.SlotStart(in.ScheduledAt)
	if !slot.After(s.now()) {
		return models.NewValidationError("a broadcast must be scheduled in the future")
	}
	hour := slot.Hour()
	if hour < s.settings.OpenHour || hour >= s.settings.CloseHour {
		return models.NewValidationError(fmt.Sprintf("broadcasts run between %02d:00 and %02d:00",
			s.settings.OpenHour, s.settings.CloseHour))
	}
	return nil
}

// validateInfo checks the descriptive fields a seller may edit at any time.
func validateInfo(in BroadcastInput) error {
	if _, err := validation.Title(in.Title); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.Notice(in.Notice); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.AssetURL("thumbnail_url", in.ThumbnailURL); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.AssetURL("wait_screen_url", in.WaitScreenURL); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.Qcards(in.Qcards); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

// buildProducts checks ownership and sellable stock and numbers the products
// in the order given.
func (s *BroadcastService) buildProducts(ctx context.Context, sellerID uint, inputs []ProductInput) ([]models.BroadcastProduct, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(inputs))
	seen := make(map[uint]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.ProductID] {
			return nil, models.NewValidationError(fmt.Sprintf("product %d is listed twice", in.ProductID))
		}
		seen[in.ProductID] = true
		ids = append(ids, in.ProductID)
	}

	owned, err := s.Products.GetForSeller(ctx, sellerID, ids)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	byID := make(map[uint]models.Product, len(owned))
	for _, p := range owned {
		byID[p.ID] = p
	}

	out := make([]models.BroadcastProduct, 0, len(inputs))
	for i, in := range inputs {
		p, ok := byID[in.ProductID]
		if !ok {
			return nil, models.NewForbiddenError(fmt.Sprintf("product %d does not belong to the seller", in.ProductID))
		}
		if in.BpQuantity <= 0 {
			return nil, models.NewValidationError("bp_quantity must be positive")
		}
		if in.BpPrice != nil && *in.BpPrice < 0 {
			return nil, models.NewValidationError("bp_price cannot be negative")
		}
		if in.BpQuantity > p.SellableStock() {
			return nil, models.NewProductSoldOutError(p.ID)
		}
		out = append(out, models.BroadcastProduct{
			ProductID:    p.ID,
			BpPrice:      in.BpPrice,
			BpQuantity:   in.BpQuantity,
			DisplayOrder: i + 1,
			IsPinned:     in.IsPinned,
			Status:       models.BroadcastProductSelling,
		})
	}
	return out, nil
}

func buildQcards(questions []string) []models.Qcard {
	out := make([]models.Qcard, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, models.Qcard{Question: q, SortOrder: len(out) + 1})
	}
	return out
}

func writeChildren(ctx context.Context, tx repository.BroadcastRepository, broadcastID uint, products []models.BroadcastProduct, qcards []models.Qcard) error {
	if err := tx.ReplaceProducts(ctx, broadcastID, products); err != nil {
		return models.NewInternalError(err)
	}
	if err := tx.ReplaceQcards(ctx, broadcastID, qcards); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func applyInfo(b *models.Broadcast, in BroadcastInput) {
	b.Title = strings.TrimSpace(in.Title)
	b.Notice = in.Notice
	b.CategoryID = in.CategoryID
	b.ThumbnailURL = in.ThumbnailURL
	b.WaitScreenURL = in.WaitScreenURL
	b.Layout = in.Layout
}
