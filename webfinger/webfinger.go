// Package webfinger answers RFC 7033 discovery queries for local accounts.
package webfinger

import (
	"context"
	"strings"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

const (
	ContentType = "application/jrd+json"

	relProfilePage = "http://webfinger.net/rel/profile-page"
)

type ProfileStore interface {
	GetProfileByUsername(ctx context.Context, username string) (*store.Profile, error)
}

type Responder struct {
	store  ProfileStore
	domain string
}

func New(s ProfileStore, domain string) *Responder {
	return &Responder{store: s, domain: domain}
}

// Lookup resolves an acct: resource to the JRD of a local profile.
func (w *Responder) Lookup(ctx context.Context, resource string) (*models.WebFinger, error) {
	if resource == "" {
		return nil, apperror.BadRequest("missing resource parameter")
	}
	scheme, account, ok := strings.Cut(resource, ":")
	if !ok || !strings.EqualFold(scheme, "acct") {
		return nil, apperror.BadRequest("unsupported resource %q: only acct: is supported", resource)
	}
	username, domain, ok := strings.Cut(strings.TrimPrefix(account, "@"), "@")
	if !ok || username == "" || domain == "" {
		return nil, apperror.BadRequest("invalid account %q", account)
	}

	profile, err := w.store.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, apperror.BadGateway(err, "look up %s", username)
	}
	if profile == nil || !strings.EqualFold(domain, w.domain) {
		return nil, apperror.NotFound("no account %s@%s", username, domain)
	}

	profileURL := models.ProfileURL(w.domain, profile.ID)
	return &models.WebFinger{
		Subject: "acct:" + profile.PreferredUsername + "@" + w.domain,
		Aliases: []string{profileURL},
		Links: []models.Link{
			{Rel: "self", Type: models.ContentType, Href: profileURL},
			{Rel: relProfilePage, Type: "text/html", Href: profileURL},
		},
	}, nil
}
