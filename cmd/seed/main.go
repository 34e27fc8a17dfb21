// Command seed fills the database with demo sellers, products and broadcasts.
package main

import (
	"context"
	"flag"
	"log"

	"livecommerce/internal/config"
	"livecommerce/internal/database"
	"livecommerce/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	sellers := flag.Int("sellers", defaults.Sellers, "Number of sellers to seed")
	products := flag.Int("products", defaults.ProductsPerSeller, "Products per seller")
	upcoming := flag.Int("upcoming", defaults.Upcoming, "Reserved broadcasts per seller")
	replays := flag.Int("replays", defaults.Replays, "Finished broadcasts with a VOD per seller")
	shouldClean := flag.Bool("clean", defaults.ShouldClean, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Log what would be created without writing")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.ConnectWithOptions(context.Background(), cfg, database.ConnectOptions{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	opts := defaults
	opts.Sellers = *sellers
	opts.ProductsPerSeller = *products
	opts.Upcoming = *upcoming
	opts.Replays = *replays
	opts.ShouldClean = *shouldClean
	opts.DryRun = *dryRun
	opts.OpenHour = cfg.ReservableOpenHour
	opts.CloseHour = cfg.ReservableCloseHour
	opts.SlotLength = cfg.SlotLength()
	opts.SlotCapacity = cfg.SlotCapacity

	if _, err := seed.Seed(db, opts); err != nil {
		log.Printf("❌ Seeding failed: %v", err)
		return
	}
	log.Println("✨ All done! Your database is now populated with demo broadcasts.")
}
