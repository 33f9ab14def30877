package server

import (
	"mime/multipart"

	"lumen/internal/models"
	"lumen/internal/service"

	"github.com/gofiber/fiber/v2"
)

// readUpload opens a multipart file and reads it under the configured byte
// ceiling. Oversized uploads abort mid-read with a 413.
func (s *Server) readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, models.NewValidationError("unreadable upload")
	}
	defer f.Close()

	return service.ReadBounded(f, s.config.UploadMaxBytes)
}

// CreatePost handles POST /posts. Multipart body: required "image" file,
// optional "caption" field.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	file, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("image file is required"))
	}

	data, err := s.readUpload(file)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	post, err := s.postService.Create(c.UserContext(), currentUserID(c), data, c.FormValue("caption"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPosts handles GET /posts. An optional ?author=<username> filter
// restricts the listing to one author.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	limit, offset := parsePagination(c)

	if author := c.Query("author"); author != "" {
		user, err := s.userRepo.GetByUsername(c.UserContext(), author)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		if user == nil {
			return models.RespondWithAppError(c, models.NewNotFoundError("User", author))
		}
		posts, err := s.postService.ListByAuthor(c.UserContext(), user.ID, limit, offset)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		return c.JSON(fiber.Map{"posts": posts})
	}

	posts, err := s.postService.ListRecent(c.UserContext(), limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"posts": posts})
}

// GetPost handles GET /posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	post, err := s.postService.Get(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(post)
}

// GetHomeFeed handles GET /posts/feed and GET /feed/home: posts by followed
// authors only, newest first.
func (s *Server) GetHomeFeed(c *fiber.Ctx) error {
	limit, offset := parsePagination(c)

	posts, err := s.postService.HomeFeed(c.UserContext(), currentUserID(c), limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"posts": posts})
}

type createCommentRequest struct {
	Text string `json:"text"`
}

// CreateComment handles POST /posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("invalid request body"))
	}

	comment, err := s.postService.AddComment(c.UserContext(), currentUserID(c), id, req.Text)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// GetComments handles GET /posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	limit, offset := parsePagination(c)

	comments, err := s.postService.ListComments(c.UserContext(), id, limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"comments": comments})
}

// LikePost handles POST /posts/:id/like
func (s *Server) LikePost(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	if err := s.postService.Like(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "liked"})
}

// UnlikePost handles DELETE /posts/:id/like
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	if err := s.postService.Unlike(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "unliked"})
}
