package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gumballmed/scanpipe/internal/application/pipeline"
	"github.com/gumballmed/scanpipe/internal/config"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
	"github.com/gumballmed/scanpipe/internal/infra/ai/analyzer"
	openaicli "github.com/gumballmed/scanpipe/internal/infra/ai/openai"
	"github.com/gumballmed/scanpipe/internal/infra/archive"
	redisbroker "github.com/gumballmed/scanpipe/internal/infra/broker/redis"
	mysqlp "github.com/gumballmed/scanpipe/internal/infra/db/mysql"
	postgresp "github.com/gumballmed/scanpipe/internal/infra/db/postgres"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
)

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, repo, err := connectDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("database connect error: %v", err)
	}
	defer db.Close()

	broker, err := redisbroker.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.JobRetention.Std())
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	defer broker.Close()

	store, err := storage.New(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}

	var mirror pipeline.Archiver
	if cfg.Archive.Enabled {
		mirror, err = archive.New(ctx,
			cfg.Archive.Endpoint,
			cfg.Archive.Region,
			cfg.Archive.BucketName,
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			cfg.Archive.UseSSL,
		)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
	}

	handlers := pipeline.NewHandlers(
		store,
		repo,
		analyzer.New(cfg.Analyzer.BaseURL, cfg.Analyzer.Timeout.Std()),
		openaicli.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
		mirror,
	)

	registry := jobs.NewRegistry()
	if err := handlers.Register(registry); err != nil {
		log.Fatalf("handler registration error: %v", err)
	}

	worker := pipeline.NewWorker(broker, registry, repo, cfg.Worker.ClaimWait.Std(), cfg.Worker.Concurrency)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Println("shutting down worker...")
		cancel()
	}()

	log.Printf("worker running with %d claimers", cfg.Worker.Concurrency)
	worker.Run(ctx)
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		return db, postgresp.NewScanRepository(db), nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		return db, mysqlp.NewScanRepository(db), nil
	}
}
