package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
	"github.com/JdoesTech/bookstoscrape/internal/detector"
	"github.com/JdoesTech/bookstoscrape/internal/scheduler"
	"github.com/JdoesTech/bookstoscrape/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to crawler configuration file")
	once := flag.Bool("once", false, "Run a single crawl pass and exit instead of scheduling")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := crawler.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(cfg.DB)
	if err != nil {
		logger.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := crawler.NewEngine(*cfg, logger)
	if err != nil {
		logger.Error("failed to initialise engine", "error", err)
		os.Exit(1)
	}
	pipeline := crawler.NewPipeline(engine, detector.New(store, logger), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once || !cfg.Scheduler.Enabled {
		report, err := pipeline.Run(ctx)
		if err != nil {
			logger.Error("crawl stopped with error", "error", err)
			os.Exit(1)
		}
		logger.Info("crawl complete",
			"total_books", report.TotalBooks,
			"permanent_misses", report.PermanentMisses,
			"parse_failures", report.ParseFailures,
			"fetch_failures", report.FetchFailures,
			"changes", len(report.Changes),
			"duration", report.Duration.String())
		return
	}

	runner := crawler.NewRunner(pipeline.Run, logger)
	sched, err := scheduler.New(cfg.Scheduler, runner, logger)
	if err != nil {
		logger.Error("failed to initialise scheduler", "error", err)
		os.Exit(1)
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()
	runner.Close()
}
