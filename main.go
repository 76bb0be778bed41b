package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backtest-core/internal/analysis"
	"backtest-core/internal/api"
	"backtest-core/internal/broker"
	"backtest-core/internal/engine"
	"backtest-core/internal/events"
	"backtest-core/internal/export"
	"backtest-core/internal/feed"
	"backtest-core/internal/portfolio"
	"backtest-core/internal/risk"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/config"
	"backtest-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(cfg)
	case "gather":
		runGather(cfg, args)
	case "run":
		runOnce(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|gather|run]\n", os.Args[0])
		os.Exit(2)
	}
}

func openDatabase(cfg *config.Config) *db.Database {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	return database
}

// runServe starts the HTTP API around the run archive and the backtest
// runner.
func runServe(cfg *config.Config) {
	database := openDatabase(cfg)
	defer database.Close()

	bus := events.NewBus()
	runner := api.NewRunner(database, bus, risk.DefaultParameters(), cfg.RiskFreeRate)
	server := api.NewServer(runner, bus, database, cfg.JWTSecret, cfg.APIKey)

	go func() {
		log.Printf("API listening on :%s", cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down")
}

// runGather backfills klines from Binance into the local database.
func runGather(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("gather", flag.ExitOnError)
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD), default today")
	_ = fs.Parse(args)

	startT, endT, err := parseRange(*start, *end)
	if err != nil {
		log.Fatalf("gather: %v", err)
	}

	database := openDatabase(cfg)
	defer database.Close()

	ctx := context.Background()
	for _, symbol := range cfg.Symbols {
		f := feed.NewBinanceFeed(symbol, cfg.Interval).WithBaseURL(cfg.BinanceBaseURL)
		bars, err := f.Bars(ctx, startT, endT)
		if err != nil {
			log.Fatalf("gather %s: %v", symbol, err)
		}
		if err := feed.StoreBars(ctx, database, bars); err != nil {
			log.Fatalf("store %s: %v", symbol, err)
		}
		log.Printf("Gathered %d bars for %s", len(bars), symbol)
	}
}

// runOnce executes a single backtest from the YAML strategy config and
// prints the performance report.
func runOnce(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	strategyID := fs.String("strategy", "", "strategy id from the YAML config (default: first active)")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD), default today")
	_ = fs.Parse(args)

	startT, endT, err := parseRange(*start, *end)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	stratCfg, err := pickStrategy(cfg.StrategyConfigPath, *strategyID)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	strat, err := strategy.Build(stratCfg)
	if err != nil {
		log.Fatalf("build strategy: %v", err)
	}

	database := openDatabase(cfg)
	defer database.Close()

	e := engine.New(engine.Deps{
		Feed:     feed.NewSQLiteFeed(database, stratCfg.Symbol),
		Strategy: strat,
		Portfolio: portfolio.New(portfolio.Config{
			InitialCapital:  cfg.InitialCapital,
			MaxPositionSize: cfg.MaxPositionSize,
		}),
		Broker: broker.New(broker.Config{
			Slippage:   cfg.Slippage,
			Commission: cfg.Commission,
		}),
		Risk:         risk.NewManager(risk.DefaultParameters()),
		RiskFreeRate: cfg.RiskFreeRate,
	})

	results, err := e.Run(context.Background(), startT, endT)
	if err != nil {
		log.Fatalf("run backtest: %v", err)
	}

	analyzer := analysis.NewAnalyzer(cfg.RiskFreeRate)
	fmt.Print(analyzer.Report(results))

	if cfg.ExportParquet {
		exporter := export.NewParquetExporter(cfg.DataDir)
		if err := exporter.Export(results); err != nil {
			log.Fatalf("export: %v", err)
		}
		log.Printf("Exported run %s to %s", results.RunID, cfg.DataDir)
	}
}

func pickStrategy(path, id string) (strategy.Config, error) {
	configs, err := strategy.LoadConfig(path)
	if err != nil {
		return strategy.Config{}, err
	}
	for _, c := range configs {
		if id != "" && c.ID == id {
			return c, nil
		}
		if id == "" && c.IsActive {
			return c, nil
		}
	}
	return strategy.Config{}, fmt.Errorf("no matching strategy in %s", path)
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start is required")
	}
	startT, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	endT := time.Now().UTC()
	if end != "" {
		endT, err = time.Parse(time.DateOnly, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse end: %w", err)
		}
	}
	if !endT.After(startT) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", endT, startT)
	}
	return startT, endT, nil
}
