package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"lumen/internal/middleware"
	"lumen/internal/models"
	"lumen/internal/repository"
	"lumen/internal/storage"
	"lumen/internal/validation"
)

// PostService implements post creation, feeds, comments, and likes.
type PostService struct {
	posts    repository.PostRepository
	comments repository.CommentRepository
	likes    repository.LikeRepository
	images   *ImageService
	blobs    storage.BlobStore
}

// NewPostService wires the post service with its collaborators.
func NewPostService(
	posts repository.PostRepository,
	comments repository.CommentRepository,
	likes repository.LikeRepository,
	images *ImageService,
	blobs storage.BlobStore,
) *PostService {
	return &PostService{posts: posts, comments: comments, likes: likes, images: images, blobs: blobs}
}

// Create validates and re-encodes the uploaded image, stores it under a
// fresh unique key, and persists the post row. Object-store failures surface
// as server errors; nothing is retried.
func (s *PostService) Create(ctx context.Context, authorID uint, imageData []byte, caption string) (*models.Post, error) {
	if err := validation.ValidateCaption(caption); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	processed, contentType, err := s.images.Process(imageData)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("posts/%d/%s.jpg", authorID, uuid.NewString())
	if err := s.blobs.Put(ctx, key, processed, contentType); err != nil {
		return nil, models.NewInternalError(err)
	}

	post := &models.Post{
		AuthorID: authorID,
		ImageKey: key,
		Caption:  caption,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}

	middleware.Logger.InfoContext(ctx, "post created",
		slog.Uint64("post_id", uint64(post.ID)), slog.Uint64("author_id", uint64(authorID)))

	// Re-read through the joined query so the response carries author_name
	// and the zeroed counters.
	created, err := s.posts.GetByID(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	s.attachURL(created)
	return created, nil
}

// Get returns a single post by id.
func (s *PostService) Get(ctx context.Context, id uint) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.attachURL(post)
	return post, nil
}

// ListRecent returns the newest posts across all authors.
func (s *PostService) ListRecent(ctx context.Context, limit, offset int) ([]models.Post, error) {
	posts, err := s.posts.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	s.attachURLs(posts)
	return posts, nil
}

// ListByAuthor returns a user's posts, newest first.
func (s *PostService) ListByAuthor(ctx context.Context, authorID uint, limit, offset int) ([]models.Post, error) {
	posts, err := s.posts.ListByAuthor(ctx, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	s.attachURLs(posts)
	return posts, nil
}

// HomeFeed returns posts by followed authors only, newest first. The
// viewer's own posts never appear.
func (s *PostService) HomeFeed(ctx context.Context, viewerID uint, limit, offset int) ([]models.Post, error) {
	posts, err := s.posts.HomeFeed(ctx, viewerID, limit, offset)
	if err != nil {
		return nil, err
	}
	s.attachURLs(posts)
	return posts, nil
}

// AddComment attaches a comment to a post. Missing posts yield 404.
func (s *PostService) AddComment(ctx context.Context, authorID, postID uint, text string) (*models.Comment, error) {
	if err := validation.ValidateComment(text); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		PostID:   postID,
		AuthorID: authorID,
		Text:     text,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments returns a post's comments, oldest first.
func (s *PostService) ListComments(ctx context.Context, postID uint, limit, offset int) ([]models.Comment, error) {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.comments.ListByPost(ctx, postID, limit, offset)
}

// Like records the user's like on a post. Liking twice is a no-op.
func (s *PostService) Like(ctx context.Context, userID, postID uint) error {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return err
	}
	return s.likes.Create(ctx, userID, postID)
}

// Unlike removes the user's like. Removing a non-existent like succeeds.
func (s *PostService) Unlike(ctx context.Context, userID, postID uint) error {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return err
	}
	return s.likes.Delete(ctx, userID, postID)
}

func (s *PostService) attachURL(post *models.Post) {
	if post.ImageKey != "" {
		post.ImageURL = s.blobs.URL(post.ImageKey)
	}
}

func (s *PostService) attachURLs(posts []models.Post) {
	for i := range posts {
		s.attachURL(&posts[i])
	}
}
