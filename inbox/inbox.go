// Package inbox processes activities POSTed to local inboxes: the follow
// handshake with remote actors and the answers to our own follows.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/metrics"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/signature"
	"github.com/cvhariharan/sailboat/store"
)

// Store is the part of the store the inbox mutates.
type Store interface {
	UpsertKnownActor(ctx context.Context, a *store.KnownActor) error
	AddFollower(ctx context.Context, profileID int64, actorID string) (bool, error)
	RemoveFollower(ctx context.Context, profileID int64, actorID string) (bool, error)
	GetFollowing(ctx context.Context, profileID int64, actorID string) (*store.Following, error)
	AcceptFollowing(ctx context.Context, profileID int64, actorID string) (bool, error)
	RemoveFollowing(ctx context.Context, profileID int64, actorID string) (bool, error)
}

// Profiles hands out the signing capability of local profiles.
type Profiles interface {
	CurrentProfile(ctx context.Context, profileID int64) (*models.CurrentProfile, error)
}

// Resolver fetches remote actors. *directory.Directory implements it.
type Resolver interface {
	GetActor(ctx context.Context, uri string, as *models.CurrentProfile) (*models.Actor, error)
	Forget(uri string)
}

// Sender schedules a background delivery. *delivery.Dispatcher implements it.
type Sender interface {
	Deliver(as *models.CurrentProfile, inbox string, body []byte, kind string)
}

type Handler struct {
	store    Store
	profiles Profiles
	resolver Resolver
	sender   Sender
	builder  *activity.Builder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mode     VerifyMode
	maxSkew  time.Duration
	now      func() time.Time
}

type Option func(*Handler)

func WithVerifyMode(m VerifyMode) Option {
	return func(h *Handler) { h.mode = m }
}

func WithClockSkew(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.maxSkew = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(s Store, profiles Profiles, resolver Resolver, sender Sender, b *activity.Builder, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:    s,
		profiles: profiles,
		resolver: resolver,
		sender:   sender,
		builder:  b,
		logger:   logger,
		mode:     VerifyEnforce,
		maxSkew:  DefaultClockSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one inbound activity. r supplies the headers used for
// signature checks and body is the raw request body. owner is the profile
// whose inbox received the request, or 0 for the shared inbox.
//
// Follow, Undo(Follow), Accept(Follow) and Reject(Follow) change state;
// every other activity is acknowledged and ignored.
func (h *Handler) Handle(ctx context.Context, r *http.Request, body []byte, owner int64) error {
	var act models.Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return apperror.BadRequest("malformed activity: %v", err)
	}
	if act.Type == "" || act.Actor == "" {
		return apperror.BadRequest("activity must have a type and an actor")
	}

	var err error
	result := metrics.ResultSuccess
	switch act.Type {
	case models.TypeFollow:
		err = h.follow(ctx, r, body, &act, owner)
	case models.TypeUndo:
		result, err = h.undo(ctx, r, body, &act, owner)
	case models.TypeAccept, models.TypeReject:
		result, err = h.answer(ctx, r, body, &act, owner)
	default:
		result = metrics.ResultIgnored
		h.logger.Debug("ignoring activity", zap.String("type", act.Type), zap.String("actor", act.Actor))
	}
	if err != nil {
		result = metrics.ResultFailure
	}
	h.metrics.ObserveInbox(act.Type, result)
	return err
}

// follow records act.Actor as a follower of the profile named by the
// object and schedules the Accept reply.
func (h *Handler) follow(ctx context.Context, r *http.Request, body []byte, act *models.Activity, owner int64) error {
	objectID, err := act.ObjectID()
	if err != nil {
		return apperror.BadRequest("follow: %v", err)
	}
	as, err := h.localProfile(ctx, objectID, owner)
	if err != nil {
		return err
	}

	actor, err := h.authenticate(ctx, r, body, act.Actor, as)
	if err != nil {
		return err
	}
	if err := h.store.UpsertKnownActor(ctx, activity.KnownActor(actor)); err != nil {
		return apperror.Internal(err, "store actor %s", actor.ID)
	}
	created, err := h.store.AddFollower(ctx, as.ProfileID, actor.ID)
	if err != nil {
		return apperror.Internal(err, "store follower %s", actor.ID)
	}

	accept, err := h.builder.Accept(as.ProfileID, json.RawMessage(body))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(accept)
	if err != nil {
		return apperror.Internal(err, "marshal accept")
	}
	h.sender.Deliver(as, actor.Inbox, payload, "accept")

	h.logger.Info("new follower",
		zap.Int64("profile_id", as.ProfileID),
		zap.String("actor", actor.ID),
		zap.Bool("repeat", !created))
	return nil
}

// undo removes the follower edge named by an embedded Follow. Removing an
// edge that does not exist is not an error.
func (h *Handler) undo(ctx context.Context, r *http.Request, body []byte, act *models.Activity, owner int64) (string, error) {
	inner, err := act.EmbeddedActivity()
	if errors.Is(err, models.ErrObjectNotEmbedded) {
		h.logger.Debug("ignoring undo by reference", zap.String("actor", act.Actor))
		return metrics.ResultIgnored, nil
	}
	if err != nil {
		return "", apperror.BadRequest("undo: %v", err)
	}
	if inner.Type != models.TypeFollow {
		h.logger.Debug("ignoring undo", zap.String("type", inner.Type), zap.String("actor", act.Actor))
		return metrics.ResultIgnored, nil
	}
	if inner.Actor != act.Actor {
		return "", apperror.BadRequest("undo: %s cannot undo a follow by %s", act.Actor, inner.Actor)
	}
	objectID, err := inner.ObjectID()
	if err != nil {
		return "", apperror.BadRequest("undo: %v", err)
	}
	as, err := h.localProfile(ctx, objectID, owner)
	if err != nil {
		return "", err
	}
	if _, err := h.authenticate(ctx, r, body, act.Actor, as); err != nil {
		return "", err
	}

	removed, err := h.store.RemoveFollower(ctx, as.ProfileID, act.Actor)
	if err != nil {
		return "", apperror.Internal(err, "remove follower %s", act.Actor)
	}
	h.logger.Info("follower removed",
		zap.Int64("profile_id", as.ProfileID),
		zap.String("actor", act.Actor),
		zap.Bool("existed", removed))
	return metrics.ResultSuccess, nil
}

// answer applies a remote Accept or Reject of one of our Follows.
func (h *Handler) answer(ctx context.Context, r *http.Request, body []byte, act *models.Activity, owner int64) (string, error) {
	var followID, follower string
	inner, err := act.EmbeddedActivity()
	switch {
	case errors.Is(err, models.ErrObjectNotEmbedded):
		if followID, err = act.ObjectID(); err != nil {
			return "", apperror.BadRequest("%s: %v", act.Type, err)
		}
		follower = followID
	case err != nil:
		return "", apperror.BadRequest("%s: %v", act.Type, err)
	case inner.Type != models.TypeFollow:
		return metrics.ResultIgnored, nil
	default:
		followID, follower = inner.ID, inner.Actor
	}

	as, err := h.localProfile(ctx, follower, owner)
	if err != nil {
		return "", err
	}
	following, err := h.store.GetFollowing(ctx, as.ProfileID, act.Actor)
	if err != nil {
		return "", apperror.Internal(err, "load follow of %s", act.Actor)
	}
	if following == nil || (followID != "" && following.FollowID != followID) {
		h.logger.Debug("ignoring answer to unknown follow",
			zap.String("type", act.Type), zap.String("actor", act.Actor), zap.String("follow", followID))
		return metrics.ResultIgnored, nil
	}
	if _, err := h.authenticate(ctx, r, body, act.Actor, as); err != nil {
		return "", err
	}

	if act.Type == models.TypeAccept {
		_, err = h.store.AcceptFollowing(ctx, as.ProfileID, act.Actor)
	} else {
		_, err = h.store.RemoveFollowing(ctx, as.ProfileID, act.Actor)
	}
	if err != nil {
		return "", apperror.Internal(err, "apply %s from %s", act.Type, act.Actor)
	}
	h.logger.Info("follow answered",
		zap.String("type", act.Type),
		zap.Int64("profile_id", as.ProfileID),
		zap.String("actor", act.Actor))
	return metrics.ResultSuccess, nil
}

// localProfile maps a profile URI to the signing capability of that profile.
// On a per-profile inbox the URI must name the inbox owner.
func (h *Handler) localProfile(ctx context.Context, uri string, owner int64) (*models.CurrentProfile, error) {
	id, err := h.builder.ProfileID(uri)
	if err != nil {
		return nil, err
	}
	if owner != 0 && id != owner {
		return nil, apperror.BadRequest("activity targets profile %d, not the inbox owner %d", id, owner)
	}
	as, err := h.profiles.CurrentProfile(ctx, id)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.BadRequest("profile %d does not exist", id)
	}
	return as, err
}

// authenticate checks the request signature according to the configured
// mode. The sending actor is only fetched once the checks that need no
// fetch have passed.
func (h *Handler) authenticate(ctx context.Context, r *http.Request, body []byte, actorID string, as *models.CurrentProfile) (*models.Actor, error) {
	var params *signature.Params
	if h.mode != VerifyOff {
		var err error
		if params, err = h.precheck(r, body, actorID); err != nil {
			if h.mode == VerifyEnforce {
				return nil, err
			}
			h.logger.Warn("unverified inbound activity", zap.String("actor", actorID), zap.Error(err))
		}
	}

	actor, err := h.resolver.GetActor(ctx, actorID, as)
	if err != nil {
		return nil, err
	}
	if actor.ID != actorID {
		return nil, apperror.BadGateway(nil, "%s served the actor document of %s", actorID, actor.ID)
	}
	if params == nil {
		return actor, nil
	}

	if err := verifyKey(r, params, actor); err != nil {
		// The key may have been rotated since the actor was cached.
		h.resolver.Forget(actorID)
		if h.mode == VerifyLog {
			h.logger.Warn("unverified inbound activity", zap.String("actor", actorID), zap.Error(err))
			return actor, nil
		}
		return nil, err
	}
	return actor, nil
}
