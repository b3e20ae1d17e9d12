package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/handlers"
	"polymarket-copytrader/middleware"
	"polymarket-copytrader/service"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.NewPostgres(cfg.Postgres, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	// Exchange clients
	dataClient := api.NewClient(cfg.Polymarket.DataAPIURL)

	auth, err := api.NewAuth(cfg.Polymarket.PrivateKey)
	if err != nil {
		log.Fatalf("failed to init signer: %v", err)
	}

	clobClient, err := api.NewClobClient(cfg.Polymarket.ClobAPIURL, auth)
	if err != nil {
		log.Fatalf("failed to init CLOB client: %v", err)
	}
	if cfg.Polymarket.FunderAddress != "" {
		clobClient.SetFunder(cfg.Polymarket.FunderAddress)
	}

	ctx := context.Background()
	if _, err := clobClient.DeriveAPICreds(ctx); err != nil {
		log.Fatalf("failed to derive CLOB API credentials: %v", err)
	}

	// Live quote cache over the market websocket
	quoteFeed := api.NewQuoteFeed(cfg.Polymarket.ClobWSURL)
	if err := quoteFeed.Start(ctx); err != nil {
		log.Fatalf("failed to start quote feed: %v", err)
	}
	defer quoteFeed.Stop()
	clobClient.SetQuoteFeed(quoteFeed)

	// One explicitly constructed engine shared by both loops
	gateways := syncer.Gateways{Data: dataClient, Clob: clobClient}
	pricing := syncer.NewPricingEngine()
	copyTrader := syncer.NewCopyTrader(store, gateways, gateways, pricing, cfg.Monitor.MinTradeSize)
	orderManager := syncer.NewOrderManager(store, gateways, gateways, pricing)

	worker := syncer.NewWorker(copyTrader, orderManager, cfg.Monitor.Interval)
	worker.Start()
	defer worker.Stop()

	svc := service.NewService(store, gateways)

	// HTTP API
	r := gin.Default()
	r.Use(middleware.BasicAuth(os.Getenv("AUTH_USERNAME"), os.Getenv("AUTH_PASSWORD")))
	r.Use(middleware.ValidateUserParam())

	h := handlers.NewHandler(svc, worker)
	h.RegisterRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	log.Printf("Copy trader listening on :%s (monitor interval %s)", port, cfg.Monitor.Interval)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
