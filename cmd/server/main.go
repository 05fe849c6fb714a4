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

	"github.com/Monthlyaway/short-rules/config"
	"github.com/Monthlyaway/short-rules/internal/audit"
	"github.com/Monthlyaway/short-rules/internal/cache"
	"github.com/Monthlyaway/short-rules/internal/filter"
	"github.com/Monthlyaway/short-rules/internal/handler"
	"github.com/Monthlyaway/short-rules/internal/identity"
	"github.com/Monthlyaway/short-rules/internal/middleware"
	"github.com/Monthlyaway/short-rules/internal/repository"
	"github.com/Monthlyaway/short-rules/internal/service"
	"github.com/Monthlyaway/short-rules/internal/sweeper"
	"github.com/Monthlyaway/short-rules/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Snowflake ID generator
	if err := utils.InitSnowflake(cfg.Snowflake.DatacenterID, cfg.Snowflake.WorkerID); err != nil {
		logger.Fatal("Failed to initialize Snowflake", zap.Error(err))
	}

	// Initialize MySQL repository
	repo, err := repository.NewRuleRepository(
		cfg.MySQL.DSN(),
		cfg.MySQL.MaxIdleConns,
		cfg.MySQL.MaxOpenConns,
	)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	// Initialize Redis listing cache
	listingCache, err := cache.NewListingCache(
		cfg.Redis.Addr(),
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Cache.TTL(),
	)
	if err != nil {
		logger.Fatal("Failed to initialize Redis cache", zap.Error(err))
	}
	defer listingCache.Close()

	// Initialize Bloom filter over existing subparts
	bloomFilter := filter.NewBloomFilter(
		cfg.BloomFilter.Capacity,
		cfg.BloomFilter.FalsePositiveRate,
	)

	recorder := audit.NewRecorder(repo, logger)
	resolver := identity.NewResolver(repo, recorder, cfg.Shortener.RuleTTLDays, cfg.Shortener.RowsPerPage)
	ruleService := service.NewRuleService(repo, listingCache, bloomFilter, recorder, logger,
		cfg.Shortener.AliasDomain, cfg.Shortener.StrLimit)

	// Load all subparts into the bloom filter
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer warmCancel()
	if err := ruleService.InitBloomFilter(warmCtx); err != nil {
		logger.Warn("Failed to initialize bloom filter", zap.Error(err))
	}

	// Start the expiration sweeper, bound to process lifetime
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sw := sweeper.New(ruleService, recorder, logger, cfg.Sweeper.Interval())
	go sw.Run(sweepCtx)

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize Gin router
	router := gin.Default()

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("limit", cfg.RateLimit.Limit),
			zap.Duration("window", cfg.RateLimit.WindowDuration()))
		limiter := middleware.NewRateLimiter(listingCache.GetClient(), &middleware.RateLimitConfig{
			Limit:    cfg.RateLimit.Limit,
			Window:   cfg.RateLimit.WindowDuration(),
			SkipFunc: middleware.SkipHealthCheck,
		})
		router.Use(limiter.Middleware())
	}

	ruleHandler := handler.NewRuleHandler(ruleService, logger, cfg.Shortener.AliasDomain)
	session := middleware.Session(resolver, logger)

	// Register routes
	router.GET("/health", ruleHandler.HealthCheck)
	router.GET("/check-subpart", ruleHandler.CheckSubpart)
	router.GET("/suggest-subpart", ruleHandler.SuggestSubpart)
	router.GET("/:rule_id", ruleHandler.Redirect)
	router.GET("/", session, ruleHandler.Home)
	router.POST("/", session, ruleHandler.CreateRule)

	api := router.Group("/api/v1")
	{
		api.GET("/rules", ruleHandler.ListRules)
		api.GET("/rules/:rule_id", ruleHandler.GetRule)
		api.POST("/rules", session, ruleHandler.CreateRuleREST)
		api.DELETE("/rules/:rule_id", ruleHandler.DeleteRule)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop the sweeper before the server drains
	sweepCancel()

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "release" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
