package main

import (
	"flag"
	"log"
	"os"

	"github.com/danielpatrickdp/hpsearch/internal/dashboard"
	"github.com/danielpatrickdp/hpsearch/internal/logging"
	"github.com/danielpatrickdp/hpsearch/internal/storage"
)

func main() {
	dbPath := flag.String("db", envOr("HPSEARCH_DB", "studies.db"), "path to the study store")
	addr := flag.String("addr", envOr("HPSEARCH_DASHBOARD_ADDR", ":8080"), "listen address")
	flag.Parse()

	store, err := storage.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	events, err := logging.NewEventLog(store.DB())
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}

	r := dashboard.SetupRouter(dashboard.NewHandler(store, events))
	log.Printf("[DASH] serving %s on %s", *dbPath, *addr)
	if err := r.Run(*addr); err != nil {
		log.Fatalf("dashboard: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
