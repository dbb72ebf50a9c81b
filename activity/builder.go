// Package activity builds the ActivityStreams documents this server
// publishes about its own profiles and posts.
package activity

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

type Builder struct {
	domain string
}

func NewBuilder(domain string) *Builder {
	return &Builder{domain: domain}
}

func (b *Builder) Domain() string { return b.domain }

// Actor renders a local profile as a Person.
func (b *Builder) Actor(p *store.Profile, publicKeyPEM string) *models.Actor {
	id := models.ProfileURL(b.domain, p.ID)
	return &models.Actor{
		Context:           []string{models.ActivityStreamsContext, models.SecurityContext},
		ID:                id,
		Type:              models.TypePerson,
		URL:               id,
		Name:              p.DisplayName,
		PreferredUsername: p.PreferredUsername,
		Summary:           p.Summary,
		Inbox:             models.InboxURL(b.domain, p.ID),
		Outbox:            models.OutboxURL(b.domain, p.ID),
		Followers:         models.FollowersURL(b.domain, p.ID),
		Following:         models.FollowingURL(b.domain, p.ID),
		Endpoints:         &models.Endpoints{SharedInbox: models.SharedInboxURL(b.domain)},
		PublicKey: models.PublicKey{
			ID:           models.KeyID(b.domain, p.ID),
			Owner:        id,
			PublicKeyPem: strings.TrimSpace(publicKeyPEM),
		},
	}
}

// Note renders a post. The note id and url are both the canonical post URL.
func (b *Builder) Note(p *store.Post) *models.Note {
	postURL := models.PostURL(b.domain, p.ID)
	return &models.Note{
		ID:           postURL,
		Type:         models.TypeNote,
		URL:          postURL,
		Published:    p.CreatedAt.UTC().Format(time.RFC3339),
		AttributedTo: models.ProfileURL(b.domain, p.ProfileID),
		To:           models.IRIs{models.PublicStream},
		Cc:           models.IRIs{models.FollowersURL(b.domain, p.ProfileID)},
		Content:      p.Content,
		Tag:          []string{},
	}
}

// Create wraps the post's note in the Create activity that announces it.
func (b *Builder) Create(p *store.Post) (*models.Activity, error) {
	note := b.Note(p)
	a, err := models.NewActivity(models.TypeCreate, note.ID+"/activity", note.AttributedTo, note)
	if err != nil {
		return nil, apperror.Internal(err, "build create activity")
	}
	a.Published = note.Published
	a.To = note.To
	a.Cc = note.Cc
	return a, nil
}

// Accept answers a received Follow, embedding it verbatim.
func (b *Builder) Accept(profileID int64, follow json.RawMessage) (*models.Activity, error) {
	actor := models.ProfileURL(b.domain, profileID)
	a, err := models.NewActivity(models.TypeAccept, actor+"#accepts/follows/"+uuid.NewString(), actor, follow)
	if err != nil {
		return nil, apperror.Internal(err, "build accept activity")
	}
	return a, nil
}

// Follow builds an outbound Follow of target with a fresh id.
func (b *Builder) Follow(profileID int64, target string) (*models.Activity, error) {
	actor := models.ProfileURL(b.domain, profileID)
	return b.FollowWithID(profileID, actor+"#follows/"+uuid.NewString(), target)
}

// FollowWithID rebuilds a previously sent Follow, as needed to undo it.
func (b *Builder) FollowWithID(profileID int64, id, target string) (*models.Activity, error) {
	a, err := models.NewActivity(models.TypeFollow, id, models.ProfileURL(b.domain, profileID), target)
	if err != nil {
		return nil, apperror.Internal(err, "build follow activity")
	}
	return a, nil
}

func (b *Builder) Undo(profileID int64, inner *models.Activity) (*models.Activity, error) {
	actor := models.ProfileURL(b.domain, profileID)
	inner.Context = nil
	a, err := models.NewActivity(models.TypeUndo, actor+"#undo/"+uuid.NewString(), actor, inner)
	if err != nil {
		return nil, apperror.Internal(err, "build undo activity")
	}
	return a, nil
}

// ProfileID extracts the local profile id from a profile URL such as
// https://example.com/profiles/1 (a fragment is ignored). It fails with
// BadRequest for URLs that do not name a profile on this server.
func (b *Builder) ProfileID(rawURL string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, apperror.BadRequest("invalid profile URI %q", rawURL)
	}
	if !strings.EqualFold(u.Host, b.domain) {
		return 0, apperror.BadRequest("%q is not a profile on %s", rawURL, b.domain)
	}
	rest, ok := strings.CutPrefix(u.Path, "/profiles/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, apperror.BadRequest("%q is not a profile URI", rawURL)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.BadRequest("%q is not a profile URI", rawURL)
	}
	return id, nil
}

// KnownActor converts a fetched remote actor into its cached row.
func KnownActor(a *models.Actor) *store.KnownActor {
	url := a.URL
	if url == "" {
		url = a.ID
	}
	return &store.KnownActor{
		ActorID:           a.ID,
		URL:               url,
		Name:              a.Name,
		PreferredUsername: a.PreferredUsername,
		Summary:           a.Summary,
		Inbox:             a.Inbox,
		Outbox:            a.Outbox,
	}
}
