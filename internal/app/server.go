package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisker/zcrm-backend/internal/api/router"
	"github.com/fisker/zcrm-backend/pkg/config"
	"github.com/fisker/zcrm-backend/pkg/database"
	"github.com/fisker/zcrm-backend/pkg/logger"
	pkgredis "github.com/fisker/zcrm-backend/pkg/redis"
)

// StartServer 启动 HTTP 服务器
func StartServer(cfg *config.Config, handlers *Handlers, services *Services) {
	// Setup router
	r := router.Setup(
		handlers.Auth,
		handlers.User,
		handlers.Company,
		handlers.Organization,
		handlers.Opportunity,
		handlers.ApprovalTemplate,
		handlers.ApprovalInstance,
		services.Auth,
		cfg.Server.Mode,
	)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.APIPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Print startup banner
	printStartupBanner(cfg)

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Infof("\nShutting down gracefully...")

	// Create shutdown context with 10s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 1. Shutdown HTTP server
	logger.Infof("  → Stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Infof("  Warning: HTTP server shutdown error: %v", err)
	} else {
		logger.Infof("  ✓ HTTP server stopped")
	}

	// 2. Close database
	logger.Infof("  → Closing database...")
	database.Close()
	logger.Infof("  ✓ Database closed")

	// 3. Close Redis if enabled
	if cfg.Redis.Enabled {
		logger.Infof("  → Closing Redis...")
		pkgredis.Close()
		logger.Infof("  ✓ Redis closed")
	}

	logger.Infof("")
	logger.Infof("Shutdown complete")
	logger.Infof("")
}

// printStartupBanner 打印启动横幅
func printStartupBanner(cfg *config.Config) {
	logger.Infof("")
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("ZCRM Backend v1.0 - Sales CRM & Approval Workflow")
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("")
	logger.Infof("Features:")
	logger.Infof("   • Authentication & Authorization")
	logger.Infof("   • Company / Organization Management")
	logger.Infof("   • Opportunity Tracking")
	logger.Infof("   • Graph-based Approval Workflows")
	logger.Infof("   • Idempotent Approval Actions")
	logger.Infof("")
	logger.Infof("Endpoints:")
	logger.Infof("   • API       - http://localhost:%d/api", cfg.Server.APIPort)
	logger.Infof("   • Health    - http://localhost:%d/health", cfg.Server.APIPort)
	logger.Infof("")
	logger.Infof("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Infof("")
}
