package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"counselhub/api/internal/app"
	"counselhub/api/internal/chat"
	"counselhub/api/internal/config"
	"counselhub/api/internal/directory"
	"counselhub/api/internal/metrics"
	"counselhub/api/internal/search"
	"counselhub/api/internal/treestore"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("no .env loaded: %v", err)
	}
	cfg := config.Load()
	ctx := context.Background()

	var store treestore.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis tree store")
		redisStore, err := treestore.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisStore
	} else {
		log.Printf("Using PostgreSQL tree store")
		pgStore, err := treestore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		store = pgStore
	}
	defer store.Close()

	resolver := directory.NewResolver(store)
	chatService := chat.NewService(store)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewScan(chatService, resolver))

	m := metrics.New()
	service := app.New(cfg, store, chatService, resolver, searchService, m)
	httpServer := app.NewHTTPServer(service, m, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CounselHub API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
