package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"lumen/internal/cache"
	"lumen/internal/models"
	"lumen/internal/repository"
	"lumen/internal/storage"
	"lumen/internal/validation"
)

// ProfileView is the profile payload returned by user endpoints, the public
// projection plus relationship counts.
type ProfileView struct {
	models.UserProfile
	AvatarURL      string `json:"avatar_url,omitempty"`
	FollowersCount int64  `json:"followers_count"`
	FollowingCount int64  `json:"following_count"`
	PostsCount     int64  `json:"posts_count"`
	IsFollowing    bool   `json:"is_following,omitempty"`
}

// UserService implements profiles, follow relationships, and user search.
type UserService struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	posts   repository.PostRepository
	images  *ImageService
	blobs   storage.BlobStore
}

// NewUserService wires the user service with its collaborators.
func NewUserService(
	users repository.UserRepository,
	follows repository.FollowRepository,
	posts repository.PostRepository,
	images *ImageService,
	blobs storage.BlobStore,
) *UserService {
	return &UserService{users: users, follows: follows, posts: posts, images: images, blobs: blobs}
}

// GetProfile returns the public profile for username. viewerID > 0 also
// resolves whether the viewer follows the profile.
func (s *UserService) GetProfile(ctx context.Context, username string, viewerID uint) (*ProfileView, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.NewNotFoundError("User", username)
	}

	view, err := s.buildView(ctx, user, user.PublicProfile())
	if err != nil {
		return nil, err
	}

	if viewerID != 0 && viewerID != user.ID {
		following, err := s.follows.Exists(ctx, viewerID, user.ID)
		if err != nil {
			return nil, err
		}
		view.IsFollowing = following
	}
	return view, nil
}

// GetOwnProfile returns the caller's profile including email.
func (s *UserService) GetOwnProfile(ctx context.Context, userID uint) (*ProfileView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, user, user.PrivateProfile())
}

// UpdateProfile applies the provided fields to the caller's profile. Nil
// pointers leave fields untouched.
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, name, bio *string) (*ProfileView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	newName, newBio := user.Name, user.Bio
	if name != nil {
		newName = *name
	}
	if bio != nil {
		newBio = *bio
	}
	if err := validation.ValidateProfile(newName, newBio); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	user.Name = newName
	user.Bio = newBio
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return s.buildView(ctx, user, user.PrivateProfile())
}

// UpdateAvatar runs the uploaded bytes through the image pipeline and stores
// the result under a fresh avatar key.
func (s *UserService) UpdateAvatar(ctx context.Context, userID uint, data []byte) (*ProfileView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	processed, contentType, err := s.images.Process(data)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("avatars/%s.jpg", uuid.NewString())
	if err := s.blobs.Put(ctx, key, processed, contentType); err != nil {
		return nil, models.NewInternalError(err)
	}

	user.AvatarKey = key
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return s.buildView(ctx, user, user.PrivateProfile())
}

// Follow creates the follower→followee relationship. Missing targets yield
// 404; self-follows are rejected; re-following is a no-op.
func (s *UserService) Follow(ctx context.Context, followerID uint, username string) error {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if target == nil {
		return models.NewNotFoundError("User", username)
	}
	if target.ID == followerID {
		return models.NewValidationError("cannot follow yourself")
	}

	if err := s.follows.Create(ctx, followerID, target.ID); err != nil {
		return err
	}
	cache.InvalidateHomeFeed(ctx, followerID)
	return nil
}

// Unfollow removes the relationship. Unfollowing a non-relationship succeeds.
func (s *UserService) Unfollow(ctx context.Context, followerID uint, username string) error {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if target == nil {
		return models.NewNotFoundError("User", username)
	}

	if err := s.follows.Delete(ctx, followerID, target.ID); err != nil {
		return err
	}
	cache.InvalidateHomeFeed(ctx, followerID)
	return nil
}

// Followers lists users following username, most recent first.
func (s *UserService) Followers(ctx context.Context, username string, limit, offset int) ([]models.UserProfile, error) {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, models.NewNotFoundError("User", username)
	}

	users, err := s.follows.Followers(ctx, target.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	return profiles(users), nil
}

// Following lists users that username follows, most recent first.
func (s *UserService) Following(ctx context.Context, username string, limit, offset int) ([]models.UserProfile, error) {
	target, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, models.NewNotFoundError("User", username)
	}

	users, err := s.follows.Following(ctx, target.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	return profiles(users), nil
}

// Search returns users whose username matches query, ordered by username.
func (s *UserService) Search(ctx context.Context, query string, limit int) ([]models.UserProfile, error) {
	if query == "" {
		return nil, models.NewValidationError("search query is required")
	}

	users, err := s.users.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return profiles(users), nil
}

func (s *UserService) buildView(ctx context.Context, user *models.User, profile models.UserProfile) (*ProfileView, error) {
	followers, err := s.follows.CountFollowers(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	following, err := s.follows.CountFollowing(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.CountByAuthor(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	view := &ProfileView{
		UserProfile:    profile,
		FollowersCount: followers,
		FollowingCount: following,
		PostsCount:     posts,
	}
	if user.AvatarKey != "" {
		view.AvatarURL = s.blobs.URL(user.AvatarKey)
	}
	return view, nil
}

func profiles(users []models.User) []models.UserProfile {
	out := make([]models.UserProfile, 0, len(users))
	for i := range users {
		out = append(out, users[i].PublicProfile())
	}
	return out
}
