package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appscans "github.com/gumballmed/scanpipe/internal/application/scans"
	"github.com/gumballmed/scanpipe/internal/application/tokens"
	"github.com/gumballmed/scanpipe/internal/config"
	"github.com/gumballmed/scanpipe/internal/domain/accounts"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
	redisbroker "github.com/gumballmed/scanpipe/internal/infra/broker/redis"
	mysqlp "github.com/gumballmed/scanpipe/internal/infra/db/mysql"
	postgresp "github.com/gumballmed/scanpipe/internal/infra/db/postgres"
	"github.com/gumballmed/scanpipe/internal/infra/httpserver"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
	"github.com/gumballmed/scanpipe/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	db, repo, directory, err := connectDatabase(ctx, cfg)
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

	issuer := tokens.NewIssuer(cfg.Tokens.Secret, directory, cfg.Tokens.AccessTTL.Std(), cfg.Tokens.TaskTTL.Std())

	svc := &appscans.Service{
		Repo:              repo,
		Store:             store,
		Broker:            broker,
		Tokens:            issuer,
		Policy:            accounts.OwnerOnlyPolicy{},
		Clock:             appscans.SystemClock{},
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		AllowedExtensions: cfg.Storage.AllowedExtensions,
	}

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
		"broker":   &middleware.BrokerHealthChecker{Broker: broker},
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(svc, issuer, checkers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, accounts.Directory, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		return db, postgresp.NewScanRepository(db), postgresp.NewAccountDirectory(db), nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, err
		}
		return db, mysqlp.NewScanRepository(db), mysqlp.NewAccountDirectory(db), nil
	}
}
