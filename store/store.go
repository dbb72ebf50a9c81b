// Package store defines the persistence interface for profiles, posts and
// the federation graph (known actors, followers, following).
// Implementations must be safe for concurrent use. Writes are single
// statements; there are no cross-row transactions.
package store

import (
	"context"
	"time"
)

type Store interface {
	// Profiles.
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)

	// Posts.
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id int64) (*Post, error)
	CountPosts(ctx context.Context, profileID int64) (int, error)
	ListPosts(ctx context.Context, profileID int64, limit, offset int) ([]*Post, error)

	// Remote actors.
	UpsertKnownActor(ctx context.Context, a *KnownActor) error
	GetKnownActor(ctx context.Context, actorID string) (*KnownActor, error)

	// Followers: remote actors following a local profile.
	AddFollower(ctx context.Context, profileID int64, actorID string) (bool, error)
	RemoveFollower(ctx context.Context, profileID int64, actorID string) (bool, error)
	ListFollowers(ctx context.Context, profileID int64) ([]*KnownActor, error)
	ListFollowerInboxes(ctx context.Context, profileID int64) ([]string, error)

	// Following: remote actors a local profile follows.
	AddFollowing(ctx context.Context, f *Following) error
	GetFollowing(ctx context.Context, profileID int64, actorID string) (*Following, error)
	AcceptFollowing(ctx context.Context, profileID int64, actorID string) (bool, error)
	RemoveFollowing(ctx context.Context, profileID int64, actorID string) (bool, error)
	ListFollowing(ctx context.Context, profileID int64) ([]*Following, error)

	Close() error
}

// Profile is a local account. The keypair is created with the profile and
// never changes.
type Profile struct {
	ID                int64     `json:"id"`
	PreferredUsername string    `json:"preferred_username"`
	DisplayName       string    `json:"display_name"`
	Summary           string    `json:"summary"`
	PrivateKeyPEM     string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

type Post struct {
	ID        int64     `json:"id"`
	ProfileID int64     `json:"profile_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// KnownActor caches the metadata of a remote actor. There is no freshness
// policy; rows are refreshed whenever the actor is fetched again.
type KnownActor struct {
	ActorID           string    `json:"actor_id"`
	URL               string    `json:"url"`
	Name              string    `json:"name"`
	PreferredUsername string    `json:"preferred_username"`
	Summary           string    `json:"summary"`
	Inbox             string    `json:"inbox"`
	Outbox            string    `json:"outbox"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Following is an outbound follow. It stays pending until the remote
// actor sends an Accept.
type Following struct {
	ProfileID int64       `json:"profile_id"`
	ActorID   string      `json:"actor_id"`
	FollowID  string      `json:"follow_id"`
	Accepted  bool        `json:"accepted"`
	CreatedAt time.Time   `json:"created_at"`
	Actor     *KnownActor `json:"actor,omitempty"`
}
