package migration

import (
	accountdomain "github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/config"
	creditdomain "github.com/glidestudio/glide/internal/credit/domain"
	projectdomain "github.com/glidestudio/glide/internal/project/domain"
	"github.com/glidestudio/glide/internal/projection"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres targets (sqlite in development) derive the schema
		// from the models.
		return conn.AutoMigrate(
			&accountdomain.Account{},
			&creditdomain.Transaction{},
			&projectdomain.Project{},
			&projectdomain.Frame{},
			&projection.ProjectStatusProjection{},
			&projection.FrameProjection{},
			&projection.CreditBalanceProjection{},
			&projection.CreditTransactionProjection{},
		)
	}),
)
