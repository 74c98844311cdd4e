package migration

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/config"
	"github.com/smallbiznis/ledgercore/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, scheme *config.SchemeHolder) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		return seed.EnsureDefaultTenant(conn, snowflake.ID(cfg.DefaultTenantID), scheme.Get())
	}),
)
