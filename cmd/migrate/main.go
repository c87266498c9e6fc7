package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"pagat.app/internal/config"
	"pagat.app/internal/migrate"
	"pagat.app/internal/obs"
	"pagat.app/internal/store"
	"pagat.app/migrations"
)

func main() {
	var (
		configPath = flag.StringP("config", "c", os.Getenv("PAGAT_CONFIG"), "path to a YAML or TOML config file")
		driver     = flag.String("driver", "", "database driver (postgres|sqlite), overrides database.driver")
		dsn        = flag.String("dsn", "", "database DSN, overrides database.dsn and DATABASE_URL")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*configPath, *driver, *dsn, flag.Arg(0)); err != nil {
		obs.Logger().Error("migrate failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(configPath, driver, dsn, command string) error {
	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	if driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("missing DSN: provide --dsn, DATABASE_URL or a config file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db, migrations.FS)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		fmt.Println("rolled back", name)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
