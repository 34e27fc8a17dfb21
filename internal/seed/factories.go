package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"livecommerce/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db   *gorm.DB
	opts Options
	rng  *rand.Rand
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)
	// #nosec G404: acceptable for seeding
	return &Factory{db: db, opts: opts, rng: rand.New(rand.NewSource(seed)), nextID: 1000}
}

func (f *Factory) create(kind string, value any, id *uint) error {
	if f.opts.DryRun {
		f.nextID++
		*id = f.nextID
		log.Printf("[dry-run] create %s id=%d", kind, *id)
		return nil
	}
	return f.db.Create(value).Error
}

// BuildProduct returns an unsaved catalog product for seller.
func (f *Factory) BuildProduct(sellerID uint) *models.Product {
	price := int64(gofakeit.Number(50, 2000)) * 100
	stock := gofakeit.Number(5, 200)
	return &models.Product{
		SellerID:    sellerID,
		Name:        gofakeit.ProductName(),
		Price:       price,
		CostPrice:   price * int64(gofakeit.Number(40, 70)) / 100,
		StockQty:    stock,
		SafetyStock: stock / 10,
		Status:      "ON_SALE",
	}
}

// CreateProduct persists a product for seller.
func (f *Factory) CreateProduct(sellerID uint, overrides ...func(*models.Product)) (*models.Product, error) {
	p := f.BuildProduct(sellerID)
	for _, override := range overrides {
		override(p)
	}
	if err := f.create("product", p, &p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildBroadcast returns an unsaved broadcast scheduled at a slot start.
func (f *Factory) BuildBroadcast(sellerID uint, scheduledAt time.Time, status models.BroadcastStatus) *models.Broadcast {
	return &models.Broadcast{
		SellerID:     sellerID,
		CategoryID:   uint(gofakeit.Number(1, 12)),
		Title:        fmt.Sprintf("%s %s live", gofakeit.ProductCategory(), gofakeit.ProductFeature()),
		Notice:       gofakeit.Sentence(12),
		ThumbnailURL: fmt.Sprintf("https://picsum.photos/seed/%s/640/360", gofakeit.UUID()),
		Layout:       "FULL",
		Status:       status,
		ScheduledAt:  scheduledAt,
	}
}

// CreateBroadcast persists a broadcast with its Q-cards and pinned products.
func (f *Factory) CreateBroadcast(b *models.Broadcast, products []*models.Product) error {
	if err := f.create("broadcast", b, &b.ID); err != nil {
		return err
	}
	for i := 0; i < f.rng.Intn(3)+1; i++ {
		q := &models.Qcard{BroadcastID: b.ID, Question: gofakeit.Question(), SortOrder: i + 1}
		if err := f.create("qcard", q, &q.ID); err != nil {
			return err
		}
	}
	for i, p := range products {
		bp := &models.BroadcastProduct{
			BroadcastID:  b.ID,
			ProductID:    p.ID,
			BpQuantity:   max(1, p.SellableStock()/2),
			DisplayOrder: i + 1,
			IsPinned:     i == 0,
			Status:       models.BroadcastProductSelling,
		}
		if f.rng.Intn(2) == 0 {
			live := p.Price * 85 / 100
			bp.BpPrice = &live
		}
		if err := f.create("broadcast product", bp, &bp.ID); err != nil {
			return err
		}
	}
	return nil
}

// CreateVod attaches a public VOD to a finished broadcast.
func (f *Factory) CreateVod(b *models.Broadcast) (*models.Vod, error) {
	v := &models.Vod{
		BroadcastID: b.ID,
		VodURL:      fmt.Sprintf("https://media.example.com/seller_%d/vods/%s.mp4", b.SellerID, gofakeit.UUID()),
		VodSize:     int64(gofakeit.Number(50, 900)) << 20,
		VodDuration: gofakeit.Number(600, 3600),
		Status:      models.VodPublic,
	}
	if err := f.create("vod", v, &v.ID); err != nil {
		return nil, err
	}
	return v, nil
}

// CreatePaidOrder records a paid order for one product inside [from, to).
func (f *Factory) CreatePaidOrder(p *models.Product, from, to time.Time) (*models.Order, error) {
	window := to.Sub(from)
	if window <= 0 {
		window = time.Minute
	}
	paidAt := from.Add(time.Duration(f.rng.Int63n(int64(window))))
	o := &models.Order{
		MemberID: uint(gofakeit.Number(1, 5000)),
		Status:   models.OrderStatusPaid,
		PaidAt:   &paidAt,
		Items: []models.OrderItem{{
			ProductID: p.ID,
			Quantity:  gofakeit.Number(1, 3),
			UnitPrice: p.Price,
		}},
	}
	if err := f.create("order", o, &o.ID); err != nil {
		return nil, err
	}
	return o, nil
}
