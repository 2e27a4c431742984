// Command taxctl records tax events and queries the tax position directly
// against a store, without going through the HTTP server.
//
//	taxctl -driver=sqlite -dsn=./data/tax.db sale -date 2024-02-22T10:00:00Z -invoice 123 -item item1:1000:0.2
//	taxctl payment -date 2024-02-23 -amount 150
//	taxctl amend -date 2024-02-24 -invoice 123 -item item1 -cost 500 -rate 0.2
//	taxctl position -date 2024-03-01 -detail
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/warp/tax-engine/config"
	"github.com/warp/tax-engine/store"
	"github.com/warp/tax-engine/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	level, _ := cfg.SlogLevel()
	a := &app{out: os.Stdout, logger: telemetry.NewLogger(os.Stderr, level, cfg.LogFormat)}
	flag.StringVar(&a.driver, "driver", cfg.DBDriver, "Store driver: sqlite, postgres or memory")
	flag.StringVar(&a.dsn, "dsn", cfg.DBDSN, "Database DSN or SQLite path")
	a.open = func(ctx context.Context) (store.Backend, error) {
		return store.Open(ctx, a.driver, a.dsn)
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	register(commander, a)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// register adds every taxctl command to c.
func register(c *subcommands.Commander, a *app) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&saleCmd{app: a}, "events")
	c.Register(&paymentCmd{app: a}, "events")
	c.Register(&amendCmd{app: a}, "events")

	c.Register(&positionCmd{app: a}, "reports")

	c.Register(&resetCmd{app: a}, "admin")
}
