package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/model"
)

// Open connects to the configured database and sizes the connection pool.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "mysql", "mariadb":
		dialector = mysql.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := gormlogger.Warn
	if cfg.LogQueries {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(slogWriter{}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.Driver == "sqlite" {
		// sqlite only enforces ON DELETE CASCADE with foreign keys switched on
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	slog.Info("database connection established", "driver", cfg.Driver)
	return db, nil
}

// Migrate creates or updates every table the portal uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Property{},
		&model.MaintenanceRequest{},
		&model.Resource{},
		&model.Documentation{},
		&model.Message{},
		&model.Bill{},
	)
}

// Seed creates the configured landlords, properties and tenants. Existing
// rows (matched by email / property name) are left untouched.
func Seed(ctx context.Context, db *gorm.DB, cfg *config.SeedConfig) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := make(map[string]*model.User)

		// landlords first so properties can reference them
		for _, su := range cfg.Users {
			if model.Role(su.Role) != model.RoleLandlord {
				continue
			}
			u, err := seedUser(tx, su, nil)
			if err != nil {
				return err
			}
			users[su.Email] = u
		}

		properties := make(map[string]*model.Property)
		for _, sp := range cfg.Properties {
			su := cfg.FindUser(sp.Landlord)
			if su == nil || model.Role(su.Role) != model.RoleLandlord {
				return fmt.Errorf("property %q references unknown landlord %q", sp.Name, sp.Landlord)
			}
			landlord := users[su.Email]
			p := model.Property{Name: sp.Name, Address: sp.Address, LandlordID: landlord.ID}
			if err := tx.Where(model.Property{Name: sp.Name}).FirstOrCreate(&p).Error; err != nil {
				return fmt.Errorf("failed to seed property %q: %w", sp.Name, err)
			}
			properties[sp.Name] = &p
		}

		for _, su := range cfg.Users {
			if model.Role(su.Role) != model.RoleTenant {
				continue
			}
			var propertyID *uint
			if su.Property != "" {
				p, ok := properties[su.Property]
				if !ok {
					return fmt.Errorf("tenant %q references unknown property %q", su.Email, su.Property)
				}
				propertyID = &p.ID
			}
			if _, err := seedUser(tx, su, propertyID); err != nil {
				return err
			}
		}

		slog.Info("seed data applied", "users", len(cfg.Users), "properties", len(cfg.Properties))
		return nil
	})
}

func seedUser(tx *gorm.DB, su config.SeedUser, propertyID *uint) (*model.User, error) {
	role := model.Role(su.Role)
	if !role.IsValid() {
		return nil, fmt.Errorf("seed user %q has invalid role %q", su.Email, su.Role)
	}

	email := strings.ToLower(strings.TrimSpace(su.Email))

	var existing model.User
	err := tx.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up seed user %q: %w", su.Email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password for %q: %w", su.Email, err)
	}

	u := &model.User{
		Email:        email,
		Name:         su.Name,
		Role:         role,
		PasswordHash: string(hash),
		PropertyID:   propertyID,
	}
	if err := tx.Create(u).Error; err != nil {
		return nil, fmt.Errorf("failed to seed user %q: %w", su.Email, err)
	}
	return u, nil
}

// slogWriter routes gorm's logger through slog.
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "error"):
		slog.Error("database error", "details", msg)
	case strings.Contains(lower, "slow sql"):
		slog.Warn("slow query", "details", msg)
	default:
		slog.Debug("database query", "details", msg)
	}
}
