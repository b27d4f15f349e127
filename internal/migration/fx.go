package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// The embedded migrations target postgres; other dialects (sqlite
		// in tests, mysql deployments) manage schema separately.
		if conn.Dialector.Name() != "postgres" {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
