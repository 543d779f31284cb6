package main

import (
	"testing"

	"github.com/remiv1/parapheur/internal/db"
	"github.com/remiv1/parapheur/internal/db/models"
	"github.com/remiv1/parapheur/internal/utils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	// One connection keeps all queries on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.RunMigrations(database))
	return database
}

func TestSeedDatabase(t *testing.T) {
	database := newSeedTestDB(t)

	t.Setenv("PARAPHEUR_SEED_PASSWORD", "")
	require.NoError(t, seedDatabase(database, zap.NewNop()))

	var users []models.User
	require.NoError(t, database.Order("login ASC").Find(&users).Error)
	require.Len(t, users, 4)

	byLogin := make(map[string]models.User, len(users))
	for _, u := range users {
		byLogin[u.Login] = u
	}

	admin := byLogin["admin"]
	require.Equal(t, models.RoleAdmin, admin.Role)
	require.Equal(t, models.HabilitationDirection, admin.Habilitation)
	require.True(t, admin.ActiveStatus)

	require.Equal(t, models.HabilitationGestion, byLogin["rdupont"].Habilitation)
	require.Equal(t, models.HabilitationGestion, byLogin["mmartin"].Habilitation)
	require.Equal(t, models.HabilitationConsultation, byLogin["pbernard"].Habilitation)

	ok, err := utils.VerifyPassword(admin.PasswordHash, "ChangerMoi!2024")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSeedDatabaseSkipsWhenUsersExist(t *testing.T) {
	database := newSeedTestDB(t)

	require.NoError(t, seedDatabase(database, zap.NewNop()))
	require.NoError(t, seedDatabase(database, zap.NewNop()))

	var count int64
	require.NoError(t, database.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 4, count)
}
