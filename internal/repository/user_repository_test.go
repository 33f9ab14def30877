package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"lumen/internal/cache"
	"lumen/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func sqliteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	return db
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "uni_users_username" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	repo := NewUserRepository(db)
	err = repo.Create(context.Background(), &models.User{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hash",
	})
	require.Error(t, err)

	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONFLICT", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEmailAndUsernameMissing(t *testing.T) {
	t.Parallel()

	repo := NewUserRepository(sqliteDB(t))
	ctx := context.Background()

	user, err := repo.GetByEmail(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, user, "missing rows are nil, not errors")

	user, err = repo.GetByUsername(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestSearchEscapesWildcards(t *testing.T) {
	t.Parallel()

	db := sqliteDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	for _, u := range []models.User{
		{Username: "alice", Email: "alice@example.com", Password: "x"},
		{Username: "a_ice", Email: "a_ice@example.com", Password: "x"},
	} {
		require.NoError(t, db.Create(&u).Error)
	}

	// The underscore is a literal, not a single-character wildcard.
	results, err := repo.Search(ctx, "a_", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a_ice", results[0].Username)

	// Prefix match, ordered by username.
	results, err = repo.Search(ctx, "a", 20)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a_ice", results[0].Username)
	assert.Equal(t, "alice", results[1].Username)

	// A bare % must not match everything.
	results, err = repo.Search(ctx, "%", 20)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// Not parallel: installs the process-wide cache client.
func TestGetByIDCacheKeepsPasswordHash(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(client)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = client.Close()
	})

	db := sqliteDB(t)
	hash := "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHQ$ZGlnZXN0ZGlnZXN0"
	user := models.User{Username: "alice", Email: "alice@example.com", Password: hash}
	require.NoError(t, db.Create(&user).Error)

	repo := NewUserRepository(db)
	ctx := context.Background()

	first, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, hash, first.Password)
	require.True(t, mr.Exists(cache.UserKey(user.ID)), "first read must fill the cache")

	// The cache hit must carry the stored hash too.
	second, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, hash, second.Password)

	// A profile edit after a cached read must not clobber the hash.
	second.Bio = "updated bio"
	require.NoError(t, repo.Update(ctx, second))

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	assert.Equal(t, hash, reloaded.Password)
	assert.Equal(t, "updated bio", reloaded.Bio)
}

func TestIsUniqueConstraintError(t *testing.T) {
	t.Parallel()

	assert.False(t, isUniqueConstraintError(nil))
	assert.False(t, isUniqueConstraintError(errors.New("connection refused")))
	assert.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: users.username")))
	assert.True(t, isUniqueConstraintError(errors.New(`duplicate key value violates unique constraint "uni_users_email"`)))
	assert.True(t, isUniqueConstraintError(errors.New("SQLSTATE 23505")))
}
