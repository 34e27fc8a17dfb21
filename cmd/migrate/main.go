// Command migrate applies, inspects and rolls back the broadcast schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"livecommerce/internal/config"
	"livecommerce/internal/database"
)

const usageText = `usage: migrate <command>

  up              apply pending SQL migrations
  auto            run AutoMigrate for every persistent model
  status          list applied and pending migrations
  down [version]  roll back one migration, the latest when no version is given`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usageText) }
	flag.Parse()
	if err := run(context.Background(), flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(ctx, cfg, database.ConnectOptions{SkipSchema: true})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	switch cmd := strings.ToLower(strings.TrimSpace(args[0])); cmd {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return err
		}
		log.Printf("schema up to date (%d migrations embedded)", len(database.GetMigrations()))

	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return err
		}
		log.Println("automigrate done")

	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return err
		}
		printStatus(status)
		if status.Drift != nil {
			return status.Drift
		}

	case "down":
		version := 0
		if len(args) > 1 {
			if version, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
		}
		m, err := database.RollbackMigration(ctx, db, version)
		if err != nil {
			return err
		}
		log.Printf("rolled back %s", m)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printStatus(s *database.SchemaStatus) {
	log.Printf("mode=%s env=%s run_sql=%t run_auto=%t", s.Mode, s.Environment, s.WillRunSQL, s.WillRunAutoMigrate)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE\tAPPLIED AT")
	for _, l := range s.Applied {
		fmt.Fprintf(w, "%06d\t%s\tapplied\t%s\n", l.Version, l.Name, l.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range s.Pending {
		fmt.Fprintf(w, "%06d\t%s\tpending\t-\n", m.Version, m.Name)
	}
	_ = w.Flush()
}
