// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"fmt"
	"log"
	"time"

	"livecommerce/internal/database"
	"livecommerce/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	Sellers           int
	ProductsPerSeller int
	// Upcoming is the number of reserved broadcasts per seller.
	Upcoming int
	// Replays is the number of finished broadcasts with a VOD per seller.
	Replays     int
	ShouldClean bool
	DryRun      bool
	RandSeed    int64
	// Reservations are placed on slot starts within [OpenHour, CloseHour) UTC.
	OpenHour     int
	CloseHour    int
	SlotLength   time.Duration
	SlotCapacity int
}

// DefaultOptions matches the default reservation settings of the service.
func DefaultOptions() Options {
	return Options{
		Sellers:           5,
		ProductsPerSeller: 8,
		Upcoming:          3,
		Replays:           2,
		ShouldClean:       true,
		OpenHour:          10,
		CloseHour:         23,
		SlotLength:        30 * time.Minute,
		SlotCapacity:      3,
	}
}

// Summary counts what Seed created.
type Summary struct {
	Products   int
	Broadcasts int
	Vods       int
	Orders     int
}

// Seed populates the database with sellers' catalogs and broadcasts. Upcoming
// reservations respect the slot capacity so the admission rules hold for the
// seeded schedule.
func Seed(db *gorm.DB, opts Options) (Summary, error) {
	var sum Summary
	if opts.SlotLength <= 0 {
		opts.SlotLength = 30 * time.Minute
	}
	if opts.SlotCapacity <= 0 {
		opts.SlotCapacity = 3
	}
	if opts.CloseHour <= opts.OpenHour {
		return sum, fmt.Errorf("reservable hours %d-%d are invalid", opts.OpenHour, opts.CloseHour)
	}

	log.Printf("🌱 Seeding %d sellers (%d products, %d upcoming, %d replays each)...",
		opts.Sellers, opts.ProductsPerSeller, opts.Upcoming, opts.Replays)

	if opts.ShouldClean && !opts.DryRun {
		if err := clearData(db); err != nil {
			return sum, fmt.Errorf("failed to clear data: %w", err)
		}
	}

	f := NewFactory(db, opts)
	slots := newSlotPlanner(time.Now().UTC(), opts)

	for seller := uint(1); seller <= uint(opts.Sellers); seller++ {
		catalog := make([]*models.Product, 0, opts.ProductsPerSeller)
		for i := 0; i < opts.ProductsPerSeller; i++ {
			p, err := f.CreateProduct(seller)
			if err != nil {
				return sum, fmt.Errorf("failed to create product: %w", err)
			}
			catalog = append(catalog, p)
		}
		sum.Products += len(catalog)

		for i := 0; i < opts.Upcoming; i++ {
			at, ok := slots.next()
			if !ok {
				break
			}
			b := f.BuildBroadcast(seller, at, models.StatusReserved)
			if err := f.CreateBroadcast(b, pick(f, catalog, 3)); err != nil {
				return sum, fmt.Errorf("failed to create broadcast: %w", err)
			}
			sum.Broadcasts++
		}

		for i := 0; i < opts.Replays; i++ {
			n, err := seedReplay(f, seller, catalog, i+1, opts)
			if err != nil {
				return sum, err
			}
			sum.Broadcasts++
			sum.Vods++
			sum.Orders += n
		}
	}

	log.Printf("✓ %d products, %d broadcasts, %d VODs, %d orders", sum.Products, sum.Broadcasts, sum.Vods, sum.Orders)
	return sum, nil
}

// seedReplay creates a broadcast that aired daysAgo, its VOD and the paid
// orders placed while it was on air.
func seedReplay(f *Factory, seller uint, catalog []*models.Product, daysAgo int, opts Options) (int, error) {
	day := time.Now().UTC().AddDate(0, 0, -daysAgo)
	start := time.Date(day.Year(), day.Month(), day.Day(), opts.OpenHour, 0, 0, 0, time.UTC).
		Add(time.Duration(seller%uint(opts.CloseHour-opts.OpenHour)) * time.Hour)
	end := start.Add(opts.SlotLength)

	b := f.BuildBroadcast(seller, start, models.StatusVod)
	b.StartedAt = &start
	b.EndedAt = &end
	b.StreamKey = fmt.Sprintf("seed-%d-%d", seller, daysAgo)
	products := pick(f, catalog, 3)
	if err := f.CreateBroadcast(b, products); err != nil {
		return 0, fmt.Errorf("failed to create replay broadcast: %w", err)
	}
	if _, err := f.CreateVod(b); err != nil {
		return 0, fmt.Errorf("failed to create vod: %w", err)
	}

	orders := 0
	for _, p := range products {
		for i := 0; i < f.rng.Intn(4); i++ {
			if _, err := f.CreatePaidOrder(p, start, end); err != nil {
				return orders, fmt.Errorf("failed to create order: %w", err)
			}
			orders++
		}
	}
	return orders, nil
}

func pick(f *Factory, catalog []*models.Product, n int) []*models.Product {
	if len(catalog) <= n {
		return catalog
	}
	out := make([]*models.Product, 0, n)
	for _, i := range f.rng.Perm(len(catalog))[:n] {
		out = append(out, catalog[i])
	}
	return out
}

// slotPlanner hands out future slot starts inside the reservable hours,
// never more than SlotCapacity per slot.
type slotPlanner struct {
	opts  Options
	at    time.Time
	taken int
}

func newSlotPlanner(now time.Time, opts Options) *slotPlanner {
	tomorrow := now.AddDate(0, 0, 1)
	first := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), opts.OpenHour, 0, 0, 0, time.UTC)
	return &slotPlanner{opts: opts, at: first}
}

func (p *slotPlanner) next() (time.Time, bool) {
	for guard := 0; guard < 24*60; guard++ {
		if p.at.Hour() < p.opts.OpenHour || p.at.Hour() >= p.opts.CloseHour {
			p.at = p.at.Add(p.opts.SlotLength)
			p.taken = 0
			continue
		}
		if p.taken >= p.opts.SlotCapacity {
			p.at = p.at.Add(p.opts.SlotLength)
			p.taken = 0
			continue
		}
		p.taken++
		return p.at, true
	}
	return time.Time{}, false
}

func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	if db.Dialector.Name() == "postgres" {
		return db.Exec(`TRUNCATE TABLE order_items, orders, view_histories, vods, broadcast_results,
			broadcast_products, qcards, broadcasts, products RESTART IDENTITY CASCADE`).Error
	}
	tables := database.PersistentModels()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(tables[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
