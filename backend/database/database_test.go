package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tenantly/portal/backend/config"
	"github.com/tenantly/portal/backend/model"
)

func openMemory(t *testing.T) *config.DatabaseConfig {
	t.Helper()
	return &config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestMigrateAndSeed(t *testing.T) {
	db, err := Open(openMemory(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	seed := &config.SeedConfig{
		Properties: []config.SeedProperty{
			{Name: "Maple Court", Address: "12 Maple St", Landlord: "owner@example.com"},
		},
		Users: []config.SeedUser{
			{Email: "tenant@example.com", Name: "Tina", Password: "tenantpass", Role: "tenant", Property: "Maple Court"},
			{Email: "owner@example.com", Name: "Olga", Password: "ownerpass", Role: "landlord"},
		},
	}

	ctx := context.Background()
	require.NoError(t, Seed(ctx, db, seed))
	// second run must be a no-op
	require.NoError(t, Seed(ctx, db, seed))

	var users []model.User
	require.NoError(t, db.Order("id").Find(&users).Error)
	require.Len(t, users, 2)

	var owner, tenant model.User
	require.NoError(t, db.Where("email = ?", "owner@example.com").First(&owner).Error)
	require.NoError(t, db.Where("email = ?", "tenant@example.com").First(&tenant).Error)

	assert.Equal(t, model.RoleLandlord, owner.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(tenant.PasswordHash), []byte("tenantpass")))

	var property model.Property
	require.NoError(t, db.Where("name = ?", "Maple Court").First(&property).Error)
	assert.Equal(t, owner.ID, property.LandlordID)
	require.NotNil(t, tenant.PropertyID)
	assert.Equal(t, property.ID, *tenant.PropertyID)
}

func TestSeedRejectsUnknownLandlord(t *testing.T) {
	db, err := Open(openMemory(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	err = Seed(context.Background(), db, &config.SeedConfig{
		Properties: []config.SeedProperty{{Name: "Orphan", Landlord: "ghost@example.com"}},
	})
	assert.ErrorContains(t, err, "unknown landlord")
}

func TestSeedSkipsUnknownRoles(t *testing.T) {
	db, err := Open(openMemory(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	// invalid roles are neither landlords nor tenants, so they are skipped
	err = Seed(context.Background(), db, &config.SeedConfig{
		Users: []config.SeedUser{{Email: "x@example.com", Password: "p", Role: "admin"}},
	})
	require.NoError(t, err)

	var count int64
	db.Model(&model.User{}).Count(&count)
	assert.Zero(t, count)
}

func TestSeedNormalizesEmails(t *testing.T) {
	db, err := Open(openMemory(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	seed := &config.SeedConfig{
		Properties: []config.SeedProperty{
			{Name: "Oak House", Address: "1 Oak Rd", Landlord: "owner@example.com"},
		},
		Users: []config.SeedUser{
			{Email: " Owner@Example.com ", Name: "Olga", Password: "ownerpass", Role: "landlord"},
		},
	}
	require.NoError(t, Seed(context.Background(), db, seed))

	var landlord model.User
	require.NoError(t, db.Where("email = ?", "owner@example.com").First(&landlord).Error)

	var property model.Property
	require.NoError(t, db.Where("name = ?", "Oak House").First(&property).Error)
	assert.Equal(t, landlord.ID, property.LandlordID)
}
