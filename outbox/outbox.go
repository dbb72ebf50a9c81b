// Package outbox serves the public collections of local profiles: the
// paged outbox of Create activities and the follower/following lists.
package outbox

import (
	"context"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

const DefaultPageSize = 20

type Store interface {
	GetProfile(ctx context.Context, id int64) (*store.Profile, error)
	GetPost(ctx context.Context, id int64) (*store.Post, error)
	CountPosts(ctx context.Context, profileID int64) (int, error)
	ListPosts(ctx context.Context, profileID int64, limit, offset int) ([]*store.Post, error)
	ListFollowers(ctx context.Context, profileID int64) ([]*store.KnownActor, error)
	ListFollowing(ctx context.Context, profileID int64) ([]*store.Following, error)
}

type Provider struct {
	store    Store
	builder  *activity.Builder
	pageSize int
}

func NewProvider(s Store, b *activity.Builder, pageSize int) *Provider {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Provider{store: s, builder: b, pageSize: pageSize}
}

// Outbox returns the collection summary. totalItems is counted on every call.
func (p *Provider) Outbox(ctx context.Context, profileID int64) (*models.OrderedCollection, error) {
	total, err := p.count(ctx, profileID)
	if err != nil {
		return nil, err
	}
	domain := p.builder.Domain()
	return &models.OrderedCollection{
		Context:    models.ActivityStreamsContext,
		ID:         models.OutboxURL(domain, profileID),
		Type:       "OrderedCollection",
		TotalItems: total,
		First:      models.LinkTo(models.OutboxPageURL(domain, profileID, 1)),
		Last:       models.LinkTo(models.OutboxPageURL(domain, profileID, p.lastPage(total))),
	}, nil
}

// Page returns page n (from 1) of the outbox, newest first. Pages past the
// end are empty.
func (p *Provider) Page(ctx context.Context, profileID int64, n int) (*models.OrderedCollectionPage, error) {
	if n < 1 {
		return nil, apperror.BadRequest("page must be a positive number")
	}
	total, err := p.count(ctx, profileID)
	if err != nil {
		return nil, err
	}
	posts, err := p.store.ListPosts(ctx, profileID, p.pageSize, (n-1)*p.pageSize)
	if err != nil {
		return nil, apperror.Internal(err, "list posts of profile %d", profileID)
	}

	items := make([]models.Activity, 0, len(posts))
	for _, post := range posts {
		create, err := p.builder.Create(post)
		if err != nil {
			return nil, err
		}
		create.Context = nil
		items = append(items, *create)
	}

	domain := p.builder.Domain()
	page := &models.OrderedCollectionPage{
		Context:      models.ActivityStreamsContext,
		ID:           models.OutboxPageURL(domain, profileID, n),
		Type:         "OrderedCollectionPage",
		PartOf:       models.OutboxURL(domain, profileID),
		TotalItems:   total,
		OrderedItems: items,
	}
	if n > 1 {
		page.Prev = models.LinkTo(models.OutboxPageURL(domain, profileID, min(n-1, p.lastPage(total))))
	}
	if n < p.lastPage(total) {
		page.Next = models.LinkTo(models.OutboxPageURL(domain, profileID, n+1))
	}
	return page, nil
}

// Note returns the Note of a local post.
func (p *Provider) Note(ctx context.Context, postID int64) (*models.Note, error) {
	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		return nil, apperror.Internal(err, "load post %d", postID)
	}
	if post == nil {
		return nil, apperror.NotFound("post %d does not exist", postID)
	}
	note := p.builder.Note(post)
	note.Context = models.ActivityStreamsContext
	return note, nil
}

// Followers lists the actors following the profile.
func (p *Provider) Followers(ctx context.Context, profileID int64) (*models.OrderedCollection, error) {
	if err := p.profileExists(ctx, profileID); err != nil {
		return nil, err
	}
	actors, err := p.store.ListFollowers(ctx, profileID)
	if err != nil {
		return nil, apperror.Internal(err, "list followers of profile %d", profileID)
	}
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		ids = append(ids, a.ActorID)
	}
	return collection(models.FollowersURL(p.builder.Domain(), profileID), ids), nil
}

// Following lists the actors that accepted a follow from the profile.
func (p *Provider) Following(ctx context.Context, profileID int64) (*models.OrderedCollection, error) {
	if err := p.profileExists(ctx, profileID); err != nil {
		return nil, err
	}
	edges, err := p.store.ListFollowing(ctx, profileID)
	if err != nil {
		return nil, apperror.Internal(err, "list following of profile %d", profileID)
	}
	ids := make([]string, 0, len(edges))
	for _, f := range edges {
		if f.Accepted {
			ids = append(ids, f.ActorID)
		}
	}
	return collection(models.FollowingURL(p.builder.Domain(), profileID), ids), nil
}

func collection(id string, items []string) *models.OrderedCollection {
	return &models.OrderedCollection{
		Context:      models.ActivityStreamsContext,
		ID:           id,
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
}

func (p *Provider) count(ctx context.Context, profileID int64) (int, error) {
	if err := p.profileExists(ctx, profileID); err != nil {
		return 0, err
	}
	total, err := p.store.CountPosts(ctx, profileID)
	if err != nil {
		return 0, apperror.Internal(err, "count posts of profile %d", profileID)
	}
	return total, nil
}

func (p *Provider) profileExists(ctx context.Context, profileID int64) error {
	profile, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return apperror.Internal(err, "load profile %d", profileID)
	}
	if profile == nil {
		return apperror.NotFound("profile %d does not exist", profileID)
	}
	return nil
}

func (p *Provider) lastPage(total int) int {
	if total <= p.pageSize {
		return 1
	}
	return (total + p.pageSize - 1) / p.pageSize
}
