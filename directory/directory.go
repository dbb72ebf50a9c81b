// Package directory resolves remote accounts: WebFinger discovery followed by
// a signed fetch of the actor document.
package directory

import (
	"context"
	"encoding/json"
	"net/url"

	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/metrics"
	"github.com/cvhariharan/sailboat/models"
)

// Fetcher performs the HTTP requests. *transport.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, uri string, out any) error
	SignedGet(ctx context.Context, uri string, as *models.CurrentProfile, out any) error
}

// Cache stores raw actor documents keyed by actor URI.
type Cache interface {
	Get(uri string) ([]byte, bool)
	Set(uri string, doc []byte)
	Delete(uri string)
}

type Directory struct {
	fetcher Fetcher
	cache   Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*Directory)

// WithCache enables a read-through actor cache. Without it every lookup
// goes to the remote server.
func WithCache(c Cache) Option {
	return func(d *Directory) { d.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

func New(fetcher Fetcher, logger *zap.Logger, opts ...Option) *Directory {
	d := &Directory{fetcher: fetcher, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WebFinger queries the handle's host for its WebFinger document.
func (d *Directory) WebFinger(ctx context.Context, h Handle) (*models.WebFinger, error) {
	q := url.Values{"resource": {h.Resource()}}
	uri := (&url.URL{Scheme: "https", Host: h.Host, Path: "/.well-known/webfinger", RawQuery: q.Encode()}).String()

	var wf models.WebFinger
	err := d.fetcher.Get(ctx, uri, &wf)
	d.metrics.ObserveFetch("webfinger", err)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// Resolve discovers the actor behind h. The full WebFinger and actor fetch
// chain runs on every call unless a cache holds the actor document.
func (d *Directory) Resolve(ctx context.Context, h Handle, as *models.CurrentProfile) (*models.Actor, error) {
	wf, err := d.WebFinger(ctx, h)
	if err != nil {
		return nil, err
	}
	href, ok := wf.SelfLink()
	if !ok {
		return nil, apperror.NotFound("%s has no ActivityPub actor", h)
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, apperror.BadGateway(err, "%s returned invalid actor URI %q", h.Host, href)
	}
	d.logger.Debug("resolved handle", zap.String("handle", h.String()), zap.String("actor", href))
	return d.GetActor(ctx, u.String(), as)
}

// GetActor fetches and validates the actor document at uri.
func (d *Directory) GetActor(ctx context.Context, uri string, as *models.CurrentProfile) (*models.Actor, error) {
	if d.cache != nil {
		if doc, ok := d.cache.Get(uri); ok {
			var actor models.Actor
			if err := json.Unmarshal(doc, &actor); err == nil && actor.Validate() == nil {
				return &actor, nil
			}
			d.cache.Delete(uri)
		}
	}

	var raw json.RawMessage
	err := d.fetcher.SignedGet(ctx, uri, as, &raw)
	d.metrics.ObserveFetch("actor", err)
	if err != nil {
		return nil, err
	}
	var actor models.Actor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, apperror.BadGateway(err, "decode actor %s", uri)
	}
	if err := actor.Validate(); err != nil {
		return nil, apperror.BadGateway(err, "invalid actor %s", uri)
	}

	if d.cache != nil {
		d.cache.Set(uri, raw)
	}
	return &actor, nil
}

// Forget drops uri from the cache so the next lookup refetches it.
func (d *Directory) Forget(uri string) {
	if d.cache != nil {
		d.cache.Delete(uri)
	}
}

// GetOutbox fetches a remote actor's outbox collection.
func (d *Directory) GetOutbox(ctx context.Context, actor *models.Actor, as *models.CurrentProfile) (*models.OrderedCollection, error) {
	if actor.Outbox == "" {
		return nil, apperror.NotFound("%s has no outbox", actor.ID)
	}
	var c models.OrderedCollection
	err := d.fetcher.SignedGet(ctx, actor.Outbox, as, &c)
	d.metrics.ObserveFetch("outbox", err)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FirstPage returns the first page of a remote outbox, using the embedded
// page when the collection carries one.
func (d *Directory) FirstPage(ctx context.Context, outbox *models.OrderedCollection, as *models.CurrentProfile) (*models.OrderedCollectionPage, error) {
	switch {
	case outbox.First == nil || outbox.First.ID == "" && outbox.First.Page == nil:
		return nil, apperror.NotFound("outbox %s has no first page", outbox.ID)
	case outbox.First.Page != nil:
		return outbox.First.Page, nil
	}
	return d.GetOutboxPage(ctx, outbox.First.ID, as)
}

// GetOutboxPage fetches one page of a remote outbox, normally the collection's
// first link.
func (d *Directory) GetOutboxPage(ctx context.Context, pageURI string, as *models.CurrentProfile) (*models.OrderedCollectionPage, error) {
	var page models.OrderedCollectionPage
	err := d.fetcher.SignedGet(ctx, pageURI, as, &page)
	d.metrics.ObserveFetch("outbox", err)
	if err != nil {
		return nil, err
	}
	return &page, nil
}
