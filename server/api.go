package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/directory"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

const profileKey = "profile"

// apiAuth checks the bearer token of the management API.
func (s *Server) apiAuth() echo.MiddlewareFunc {
	token := []byte(s.cfg.APIToken)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return apperror.Unauthorized("missing or invalid API token")
		},
	})
}

// loadProfile resolves the :id of an API route to the profile's signing
// capability.
func (s *Server) loadProfile(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		as, err := s.keys.CurrentProfile(c.Request().Context(), id)
		if err != nil {
			return err
		}
		c.Set(profileKey, as)
		return next(c)
	}
}

func currentProfile(c echo.Context) *models.CurrentProfile {
	return c.Get(profileKey).(*models.CurrentProfile)
}

type postRequest struct {
	Content string `json:"content"`
}

type postResponse struct {
	Note       *models.Note `json:"note"`
	Recipients int          `json:"recipients"`
}

// createPost stores a post and fans it out to the profile's followers. The
// response does not wait for the deliveries.
func (s *Server) createPost(c echo.Context) error {
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return apperror.BadRequest("malformed post")
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return apperror.BadRequest("post content is empty")
	}

	as := currentProfile(c)
	ctx := c.Request().Context()
	post := &store.Post{ProfileID: as.ProfileID, Content: req.Content}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return apperror.Internal(err, "create post")
	}

	recipients, err := s.notifier.Notify(ctx, post, as)
	if err != nil {
		// The post exists either way; a failed fan-out is not retried.
		s.logger.Error("fan-out failed", zap.Int64("post_id", post.ID), zap.Error(err))
	}
	return c.JSON(http.StatusCreated, postResponse{Note: s.builder.Note(post), Recipients: recipients})
}

// search resolves a handle such as @bob@remote.example to its actor.
func (s *Server) search(c echo.Context) error {
	h, err := directory.ParseHandle(c.QueryParam("q"))
	if err != nil {
		return err
	}
	actor, err := s.directory.Resolve(c.Request().Context(), h, currentProfile(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actor)
}

type followRequest struct {
	Handle string `json:"handle"`
}

func (s *Server) followActor(c echo.Context) error {
	var req followRequest
	if err := c.Bind(&req); err != nil {
		return apperror.BadRequest("malformed follow request")
	}
	actor, err := s.follows.Follow(c.Request().Context(), currentProfile(c), req.Handle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, actor)
}

func (s *Server) unfollowActor(c echo.Context) error {
	actorID := c.QueryParam("actor")
	if actorID == "" {
		return apperror.BadRequest("missing actor parameter")
	}
	if err := s.follows.Unfollow(c.Request().Context(), currentProfile(c), actorID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.NamedError("handler_error", v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	})
}
