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

	"github.com/joho/godotenv"

	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/cartstore"
	"puntoventa/backend/internal/checkout"
	"puntoventa/backend/internal/config"
	"puntoventa/backend/internal/httpapi"
	"puntoventa/backend/internal/orders"
	"puntoventa/backend/internal/receipt"
	"puntoventa/backend/internal/service"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/store/memory"
	pgstore "puntoventa/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (seeded demo catalogue)")
	}

	var cartStorage cart.Storage = cartstore.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisStore := cartstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.CartTTLHours)*time.Hour)
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), carts stay in-process", err)
		} else {
			cartStorage = redisStore
			closers = append(closers, redisStore.Close)
			log.Println("cart storage: redis")
		}
	} else {
		log.Println("cart storage: in-process")
	}

	svc := service.New(repo, cfg.StoreName)

	var orderService checkout.OrderService
	if cfg.OrderServiceURL != "" {
		orderService = orders.NewHTTPClient(cfg.OrderServiceURL, cfg.OrderServiceToken)
		log.Printf("order service: remote (%s)", cfg.OrderServiceURL)
	} else {
		orderService = orders.NewLocal(svc)
		log.Println("order service: local")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	pdf := receipt.NewPDFRenderer(cfg.StoreName)
	api := httpapi.New(svc, auth, cartStorage, orderService, pdf, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("punto de venta backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
