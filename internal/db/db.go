package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"medevent/internal/models"
)

// Connect opens the database for driver ("postgres" or "sqlite"). Postgres
// is retried while the container comes up.
func Connect(driver, dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "sqlite":
		gdb, err := gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// An in-memory database lives only as long as its one connection.
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("database not ready")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.ChatRoom{}, &models.Message{}, &models.RefreshToken{})
}

// Close releases the pool behind gdb.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
