package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"toolgate.org/internal/auth"
	"toolgate.org/internal/catalog"
	"toolgate.org/internal/config"
	"toolgate.org/internal/httpapi"
	"toolgate.org/internal/integrity"
	"toolgate.org/internal/obs"
	"toolgate.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	var (
		listenFlag  = pflag.String("listen", "", "listen address (overrides TOOLGATE_LISTEN_ADDR)")
		showVersion = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *listenFlag != "" {
		cfg.ListenAddr = *listenFlag
	}

	var store *pg.Store
	if cfg.PostgresDSN != "" {
		store, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
	}
	if store == nil {
		log.Fatalf("missing DSN: set %s", config.EnvPostgresDSN)
	}

	tree, err := catalog.Load(cfg.CommandsBase)
	if err != nil {
		log.Fatalf("load command catalog: %v", err)
	}

	hasher, err := integrity.NewHasher(cfg.SecretKey)
	if err != nil {
		log.Fatalf("integrity hasher: %v", err)
	}

	authSvc, err := auth.NewService(store, hasher, tree, cfg.SecretKey,
		auth.WithCatalogVersion(cfg.CatalogVersion))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(authSvc, httpapi.ReadyProbe{DB: store.DB()}, version)

	handler := httpapi.RequestID(
		httpapi.Logging(
			httpapi.SecurityHeaders(
				httpapi.RateLimit(
					httpapi.MaxBodyBytes(api.Handler(), 1<<20),
					cfg.CallsPerSecond, cfg.CallsPerSecond))))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting toolgate-api %s on %s (%d commands)", version, srv.Addr, tree.Commands())

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
