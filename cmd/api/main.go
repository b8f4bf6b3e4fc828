package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JdoesTech/bookstoscrape/internal/api"
	"github.com/JdoesTech/bookstoscrape/internal/config"
	"github.com/JdoesTech/bookstoscrape/internal/crawler"
	"github.com/JdoesTech/bookstoscrape/internal/detector"
	"github.com/JdoesTech/bookstoscrape/internal/scheduler"
	"github.com/JdoesTech/bookstoscrape/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to crawler configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	listenAddr := cfg.API.Addr
	if *addr != "" {
		listenAddr = *addr
	}

	logger, err := crawler.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	runner := crawler.NewRunner(pipeline.Run, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(cfg.Scheduler, runner, logger)
		if err != nil {
			logger.Error("failed to initialise scheduler", "error", err)
			os.Exit(1)
		}
		sched.Start()
	}

	server := api.NewServer(cfg.API, store, runner, logger)
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		if sched != nil {
			sched.Stop()
		}
		runner.Close()
	}()

	logger.Info("api server listening", "addr", listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("API server stopped")
}
