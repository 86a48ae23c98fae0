package db

import (
	"errors"

	"github.com/cvforge/creditengine/internal/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

var ErrUnsupportedDriver = errors.New("unsupported_database_driver")

func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		conn, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
	case "sqlite":
		conn, err = gorm.Open(sqlite.Open(cfg.DatabaseDSN), gormCfg)
	default:
		return nil, ErrUnsupportedDriver
	}
	if err != nil {
		return nil, err
	}

	log.Named("db").Info("database connected", zap.String("driver", cfg.DatabaseDriver))
	return conn, nil
}
