package database

import (
	"fmt"

	"github.com/fisker/zcrm-backend/pkg/config"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Init 建立数据库连接并执行表迁移
func Init(cfg *config.DatabaseConfig) error {
	cfg.SetDefaults()

	if err := InitDatabase(cfg); err != nil {
		return err
	}
	if DB == nil {
		return fmt.Errorf("database connection is nil after InitDatabase")
	}

	if err := AutoMigrateAll(); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	logger.Infof("Database initialized successfully")
	return nil
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
