package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/webfinger"
)

func (s *Server) healthcheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getWebFinger(c echo.Context) error {
	doc, err := s.webfinger.Lookup(c.Request().Context(), c.QueryParam("resource"))
	if err != nil {
		return err
	}
	return writeJSON(c, webfinger.ContentType, doc)
}

func (s *Server) getActor(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return apperror.Internal(err, "load profile %d", id)
	}
	if profile == nil {
		return apperror.NotFound("profile %d does not exist", id)
	}
	publicKey, err := s.keys.PublicKeyPEM(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(c, models.ContentType, s.builder.Actor(profile, publicKey))
}

// getOutbox serves the collection summary, or a page when ?page is set.
func (s *Server) getOutbox(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperror.BadRequest("page must be a positive number")
		}
		page, err := s.outbox.Page(ctx, id, n)
		if err != nil {
			return err
		}
		return writeJSON(c, models.ContentType, page)
	}
	collection, err := s.outbox.Outbox(ctx, id)
	if err != nil {
		return err
	}
	return writeJSON(c, models.ContentType, collection)
}

func (s *Server) getFollowers(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	collection, err := s.outbox.Followers(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(c, models.ContentType, collection)
}

func (s *Server) getFollowing(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	collection, err := s.outbox.Following(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(c, models.ContentType, collection)
}

func (s *Server) getNote(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	note, err := s.outbox.Note(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(c, models.ContentType, note)
}

func (s *Server) postInbox(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return s.receive(c, id)
}

func (s *Server) postSharedInbox(c echo.Context) error {
	return s.receive(c, 0)
}

func (s *Server) receive(c echo.Context, owner int64) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if err := s.inbox.Handle(c.Request().Context(), c.Request(), body, owner); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// negotiate passes requests that accept ActivityPub JSON to the handler and
// everything else to the HTML fallback.
func (s *Server) negotiate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if wantsActivityJSON(c.Request()) {
			return next(c)
		}
		return s.html(c)
	}
}

func wantsActivityJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, models.ContentType) || strings.Contains(accept, "application/ld+json")
}

func notAcceptable(echo.Context) error {
	return echo.NewHTTPError(http.StatusNotAcceptable, "only "+models.ContentType+" is served here")
}

func writeJSON(c echo.Context, contentType string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return apperror.Internal(err, "marshal response")
	}
	return c.Blob(http.StatusOK, contentType+"; charset=utf-8", body)
}

// pathID parses the numeric :id path parameter. Anything else names no
// resource.
func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.NotFound("no resource %q", c.Param("id"))
	}
	return id, nil
}
