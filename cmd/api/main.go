package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/ledgersmith/miniledger/internal/api"
	"github.com/ledgersmith/miniledger/internal/config"
	"github.com/ledgersmith/miniledger/internal/events"
	"github.com/ledgersmith/miniledger/internal/events/kafka"
	"github.com/ledgersmith/miniledger/internal/ledger"
	"github.com/ledgersmith/miniledger/internal/store"
	"github.com/ledgersmith/miniledger/internal/store/memory"
	"github.com/ledgersmith/miniledger/internal/store/postgres"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var ledgerStore store.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := postgres.New(context.Background(), cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatal(err)
		}
		ledgerStore = pg
	default:
		log.Println("Using in-memory store; state is lost on restart")
		ledgerStore = memory.New()
	}
	defer ledgerStore.Close()

	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	engine := ledger.NewEngine(ledgerStore, publisher)
	handler := api.NewHandler(engine)

	log.Printf("Server starting on :%s (backend=%s, env=%s)", cfg.Port, cfg.Backend, cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, handler.Router()); err != nil {
		log.Fatal(err)
	}
}
