// Package follow sends the Follow and Undo(Follow) activities of local
// profiles. The remote answer arrives later on the inbox.
package follow

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/directory"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

type Store interface {
	UpsertKnownActor(ctx context.Context, a *store.KnownActor) error
	GetKnownActor(ctx context.Context, actorID string) (*store.KnownActor, error)
	AddFollowing(ctx context.Context, f *store.Following) error
	GetFollowing(ctx context.Context, profileID int64, actorID string) (*store.Following, error)
	RemoveFollowing(ctx context.Context, profileID int64, actorID string) (bool, error)
}

// Resolver discovers remote accounts. *directory.Directory implements it.
type Resolver interface {
	Resolve(ctx context.Context, h directory.Handle, as *models.CurrentProfile) (*models.Actor, error)
}

// Sender schedules a background delivery. *delivery.Dispatcher implements it.
type Sender interface {
	Deliver(as *models.CurrentProfile, inbox string, body []byte, kind string)
}

type Service struct {
	store    Store
	resolver Resolver
	sender   Sender
	builder  *activity.Builder
	logger   *zap.Logger
}

func NewService(s Store, resolver Resolver, sender Sender, b *activity.Builder, logger *zap.Logger) *Service {
	return &Service{store: s, resolver: resolver, sender: sender, builder: b, logger: logger}
}

// Follow resolves handle and sends it a Follow from the given profile. The
// following edge stays pending until the remote actor accepts.
func (s *Service) Follow(ctx context.Context, as *models.CurrentProfile, handle string) (*models.Actor, error) {
	h, err := directory.ParseHandle(handle)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolver.Resolve(ctx, h, as)
	if err != nil {
		return nil, err
	}
	if actor.ID == as.ActorURL() {
		return nil, apperror.BadRequest("a profile cannot follow itself")
	}

	follow, err := s.builder.Follow(as.ProfileID, actor.ID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(follow)
	if err != nil {
		return nil, apperror.Internal(err, "marshal follow")
	}

	if err := s.store.UpsertKnownActor(ctx, activity.KnownActor(actor)); err != nil {
		return nil, apperror.Internal(err, "store actor %s", actor.ID)
	}
	err = s.store.AddFollowing(ctx, &store.Following{
		ProfileID: as.ProfileID,
		ActorID:   actor.ID,
		FollowID:  follow.ID,
	})
	if err != nil {
		return nil, apperror.Internal(err, "store following %s", actor.ID)
	}

	s.sender.Deliver(as, actor.Inbox, payload, "follow")
	s.logger.Info("follow sent",
		zap.Int64("profile_id", as.ProfileID),
		zap.String("actor", actor.ID),
		zap.String("follow_id", follow.ID))
	return actor, nil
}

// Unfollow drops the following edge to actorID and sends an Undo of the
// original Follow.
func (s *Service) Unfollow(ctx context.Context, as *models.CurrentProfile, actorID string) error {
	following, err := s.store.GetFollowing(ctx, as.ProfileID, actorID)
	if err != nil {
		return apperror.Internal(err, "load following %s", actorID)
	}
	if following == nil {
		return apperror.NotFound("profile %d does not follow %s", as.ProfileID, actorID)
	}

	if _, err := s.store.RemoveFollowing(ctx, as.ProfileID, actorID); err != nil {
		return apperror.Internal(err, "remove following %s", actorID)
	}

	known, err := s.store.GetKnownActor(ctx, actorID)
	if err != nil {
		return apperror.Internal(err, "load actor %s", actorID)
	}
	if known == nil || following.FollowID == "" {
		s.logger.Warn("unfollowed without notifying the remote actor", zap.String("actor", actorID))
		return nil
	}

	follow, err := s.builder.FollowWithID(as.ProfileID, following.FollowID, actorID)
	if err != nil {
		return err
	}
	undo, err := s.builder.Undo(as.ProfileID, follow)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(undo)
	if err != nil {
		return apperror.Internal(err, "marshal undo")
	}
	s.sender.Deliver(as, known.Inbox, payload, "undo")
	s.logger.Info("unfollowed", zap.Int64("profile_id", as.ProfileID), zap.String("actor", actorID))
	return nil
}
