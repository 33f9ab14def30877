package server

import (
	"strings"

	"lumen/internal/models"
	"lumen/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetUserProfile handles GET /users/:username
func (s *Server) GetUserProfile(c *fiber.Ctx) error {
	viewerID, _ := s.optionalUserID(c)

	view, err := s.userService.GetProfile(c.UserContext(), c.Params("username"), viewerID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

// GetMyProfile handles GET /me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	view, err := s.userService.GetOwnProfile(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

type updateProfileRequest struct {
	Name *string `json:"name"`
	Bio  *string `json:"bio"`
}

// UpdateMyProfile handles PATCH /me. JSON bodies update name/bio; multipart
// bodies may additionally carry an avatar file, which runs through the same
// image pipeline as posts.
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	userID := currentUserID(c)

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return s.updateProfileMultipart(c, userID)
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("invalid request body"))
	}

	view, err := s.userService.UpdateProfile(c.UserContext(), userID, req.Name, req.Bio)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(view)
}

func (s *Server) updateProfileMultipart(c *fiber.Ctx, userID uint) error {
	form, err := c.MultipartForm()
	if err != nil {
		return models.RespondWithAppError(c, models.NewValidationError("invalid multipart body"))
	}

	var name, bio *string
	if v, ok := form.Value["name"]; ok && len(v) > 0 {
		name = &v[0]
	}
	if v, ok := form.Value["bio"]; ok && len(v) > 0 {
		bio = &v[0]
	}

	var view *service.ProfileView
	if name != nil || bio != nil {
		view, err = s.userService.UpdateProfile(c.UserContext(), userID, name, bio)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
	}

	if files, ok := form.File["avatar"]; ok && len(files) > 0 {
		data, err := s.readUpload(files[0])
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
		view, err = s.userService.UpdateAvatar(c.UserContext(), userID, data)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
	}

	if view == nil {
		view, err = s.userService.GetOwnProfile(c.UserContext(), userID)
		if err != nil {
			return models.RespondWithAppError(c, err)
		}
	}
	return c.JSON(view)
}

// SearchUsers handles GET /users/search?q=&limit=
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	limit, _ := parsePagination(c)

	results, err := s.userService.Search(c.UserContext(), c.Query("q"), limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"users": results})
}

// FollowUser handles POST /users/:username/follow
func (s *Server) FollowUser(c *fiber.Ctx) error {
	if err := s.userService.Follow(c.UserContext(), currentUserID(c), c.Params("username")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "following"})
}

// UnfollowUser handles DELETE /users/:username/follow
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	if err := s.userService.Unfollow(c.UserContext(), currentUserID(c), c.Params("username")); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "unfollowed"})
}

// GetFollowers handles GET /users/:username/followers
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	limit, offset := parsePagination(c)

	users, err := s.userService.Followers(c.UserContext(), c.Params("username"), limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// GetFollowing handles GET /users/:username/following
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	limit, offset := parsePagination(c)

	users, err := s.userService.Following(c.UserContext(), c.Params("username"), limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}
