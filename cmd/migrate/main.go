package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"feedline.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()
	var (
		dsn        = flag.String("dsn", os.Getenv("FEEDLINE_PG_DSN"), "PostgreSQL DSN")
		migrations = flag.String("migrations", "", "Path to SQL migrations (default: embedded schema)")
		table      = flag.String("table", "", "Bookkeeping table (default: schema_migrations)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FEEDLINE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	schema := migrate.Schema()
	if *migrations != "" {
		schema = os.DirFS(*migrations)
	}
	mgr := migrate.NewManager(db, schema, migrate.WithTable(*table))

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, v := range applied {
			fmt.Println("applied", v)
		}
	case "down":
		var version string
		version, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", version)
		}
	case "status":
		var entries []migrate.Entry
		entries, err = mgr.Status(ctx)
		for _, e := range entries {
			if e.Pending {
				fmt.Printf("%s\tpending\n", e.Version)
			} else {
				fmt.Printf("%s\t%s\n", e.Version, e.AppliedAt.Format(time.RFC3339))
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
