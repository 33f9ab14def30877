// Package seed populates a development database with plausible fake data.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"lumen/internal/auth"
	"lumen/internal/middleware"
	"lumen/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options controls how much data Run generates.
type Options struct {
	Users           int
	PostsPerUser    int
	FollowsPerUser  int
	CommentsPerPost int
	Password        string
}

// DefaultOptions returns a small data set suitable for local development.
func DefaultOptions() Options {
	return Options{
		Users:           20,
		PostsPerUser:    5,
		FollowsPerUser:  6,
		CommentsPerPost: 3,
		Password:        "password123",
	}
}

// Run inserts fake users, follows, posts, comments, and likes. Every user
// shares the same password so any seeded account can be logged into.
// Image keys point at objects that do not exist; seeding does not touch the
// object store.
func Run(ctx context.Context, db *gorm.DB, opts Options) error {
	hasher := auth.NewPasswordHasher()
	hash, err := hasher.Hash(opts.Password)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	users := make([]models.User, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		users = append(users, models.User{
			Username: fmt.Sprintf("%s%d", gofakeit.Username(), i),
			Email:    fmt.Sprintf("seed%d_%s", i, gofakeit.Email()),
			Password: hash,
			Name:     gofakeit.Name(),
			Bio:      gofakeit.Sentence(8),
		})
	}
	if err := db.WithContext(ctx).Create(&users).Error; err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	for i := range users {
		for j := 0; j < opts.FollowsPerUser; j++ {
			target := users[rand.Intn(len(users))]
			if target.ID == users[i].ID {
				continue
			}
			follow := models.Follow{FollowerID: users[i].ID, FolloweeID: target.ID}
			if err := db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&follow).Error; err != nil {
				return fmt.Errorf("seed follows: %w", err)
			}
		}
	}

	var posts []models.Post
	for i := range users {
		for j := 0; j < opts.PostsPerUser; j++ {
			posts = append(posts, models.Post{
				AuthorID: users[i].ID,
				ImageKey: fmt.Sprintf("posts/%d/%s.jpg", users[i].ID, uuid.NewString()),
				Caption:  gofakeit.Sentence(10),
			})
		}
	}
	if err := db.WithContext(ctx).Create(&posts).Error; err != nil {
		return fmt.Errorf("seed posts: %w", err)
	}

	for i := range posts {
		for j := 0; j < opts.CommentsPerPost; j++ {
			comment := models.Comment{
				PostID:   posts[i].ID,
				AuthorID: users[rand.Intn(len(users))].ID,
				Text:     gofakeit.Sentence(12),
			}
			if err := db.WithContext(ctx).Create(&comment).Error; err != nil {
				return fmt.Errorf("seed comments: %w", err)
			}
		}

		for _, liker := range pickUsers(users, rand.Intn(len(users))) {
			like := models.Like{UserID: liker.ID, PostID: posts[i].ID}
			if err := db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&like).Error; err != nil {
				return fmt.Errorf("seed likes: %w", err)
			}
		}
	}

	middleware.Logger.Info("seed complete",
		slog.Int("users", len(users)),
		slog.Int("posts", len(posts)),
	)
	return nil
}

func pickUsers(users []models.User, n int) []models.User {
	if n > len(users) {
		n = len(users)
	}
	perm := rand.Perm(len(users))
	out := make([]models.User, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, users[idx])
	}
	return out
}
