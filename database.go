package main

import (
	"log/slog"
	"os"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/khanghh/kgate/internal/config"
	"github.com/khanghh/kgate/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

func openDialector(driver string, dsn string) gorm.Dialector {
	if driver == "sqlite" {
		return sqlite.Open(dsn)
	}
	return mysql.Open(dsn)
}

// redactDSN drops the password from a mysql DSN so it can be logged.
func redactDSN(driver string, dsn string) string {
	if driver != "mysql" {
		return dsn
	}
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	cfg.Passwd = ""
	return cfg.FormatDSN()
}

func mustInitDatabase(dbConfig config.DatabaseConfig) *gorm.DB {
	db, err := gorm.Open(openDialector(dbConfig.Driver, dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
		TranslateError: true,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "dsn", redactDSN(dbConfig.Driver, dbConfig.Dsn), "error", err)
		os.Exit(1)
	}

	if len(dbConfig.Replicas) > 0 {
		replicas := make([]gorm.Dialector, 0, len(dbConfig.Replicas))
		for _, dsn := range dbConfig.Replicas {
			replicas = append(replicas, openDialector(dbConfig.Driver, dsn))
		}
		err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			slog.Error("Failed to register database replicas", "error", err)
			os.Exit(1)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Failed to get database handle", "error", err)
		os.Exit(1)
	}
	if dbConfig.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(dbConfig.ConnMaxIdleTime) * time.Second)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Second)
	}

	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}
	slog.Debug("Database ready", "driver", dbConfig.Driver, "dsn", redactDSN(dbConfig.Driver, dbConfig.Dsn), "replicas", len(dbConfig.Replicas))
	return db
}
