package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"tradesim/internal/config"
	"tradesim/internal/store"
	"tradesim/internal/strategy/builtins"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradesim-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  strategies   List registered strategies\n")
		fmt.Fprintf(os.Stderr, "  symbols      List symbols in the configured bar cache\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("tradesim-cli %s\n", version)

	case "strategies":
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, name := range builtins.NewRegistry().List() {
			fmt.Fprintln(tw, name)
		}
		tw.Flush()

	case "symbols":
		if err := listSymbols(); err != nil {
			fmt.Fprintf(os.Stderr, "symbols: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func listSymbols() error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	bs, closeStore, err := store.Open(cfg.Backtest.Source, store.Location{
		DataDir:    cfg.Storage.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
		CSVPath:    cfg.Backtest.CSVPath,
	})
	if err != nil {
		return err
	}
	defer closeStore()

	syms, err := bs.ListSymbols(context.Background(), cfg.Backtest.Market)
	if err != nil {
		return err
	}
	for _, s := range syms {
		fmt.Println(s)
	}
	return nil
}
