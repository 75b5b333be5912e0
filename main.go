package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/config"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/database"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/engine"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/handlers"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/services"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Crypto transaction tracker starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	ordering, err := engine.OrderingFromString(config.Cfg.AccountingMethod)
	if err != nil {
		logger.L.Error("Invalid accounting method configured", "error", err)
		os.Exit(1)
	}
	engineCfg := engine.Config{
		Ordering:             ordering,
		AnnualLossCap:        config.Cfg.AnnualLossCap,
		WashSaleWindowDays:   config.Cfg.WashSaleWindowDays,
		CrossWalletWashSales: config.Cfg.CrossWalletWashSales,
		ParallelAssets:       true,
	}

	logger.L.Info("Initializing caches...")
	reportCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)
	priceCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	priceService := services.NewPriceService(priceCache)
	taxService := services.NewTaxService(priceService, engineCfg, reportCache)

	taxHandler := handlers.NewTaxHandler(taxService)
	priceHandler := handlers.NewPriceHandler(priceService)

	logger.L.Info("Configuring routes...")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(rateLimitMiddleware)
	r.Use(maxBodyMiddleware(config.Cfg.MaxUploadSizeBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Crypto Transaction Tracker is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/transactions/upload", taxHandler.HandleUpload)
		r.Get("/reports/{year}", taxHandler.HandleGetYearReport)
		r.Get("/holdings", taxHandler.HandleGetHoldings)
		r.Get("/review-queue", taxHandler.HandleGetReviewQueue)
		r.Post("/prices", priceHandler.HandleSeedPrices)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
		}
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
