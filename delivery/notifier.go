package delivery

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cvhariharan/sailboat/activity"
	"github.com/cvhariharan/sailboat/apperror"
	"github.com/cvhariharan/sailboat/metrics"
	"github.com/cvhariharan/sailboat/models"
	"github.com/cvhariharan/sailboat/store"
)

type FollowerStore interface {
	ListFollowerInboxes(ctx context.Context, profileID int64) ([]string, error)
}

// Notifier announces new local posts to the followers of their author.
type Notifier struct {
	store      FollowerStore
	builder    *activity.Builder
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewNotifier(s FollowerStore, b *activity.Builder, d *Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{store: s, builder: b, dispatcher: d, metrics: m, logger: logger}
}

// Notify builds the Create activity for post and schedules its delivery to
// every follower inbox known at call time. It returns the number of
// deliveries scheduled; their outcome is not reported.
func (n *Notifier) Notify(ctx context.Context, post *store.Post, as *models.CurrentProfile) (int, error) {
	if as == nil || as.ProfileID != post.ProfileID {
		return 0, apperror.BadRequest("post %d does not belong to the signing profile", post.ID)
	}

	inboxes, err := n.store.ListFollowerInboxes(ctx, post.ProfileID)
	if err != nil {
		return 0, apperror.Internal(err, "list follower inboxes of profile %d", post.ProfileID)
	}

	create, err := n.builder.Create(post)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(create)
	if err != nil {
		return 0, apperror.Internal(err, "marshal create activity")
	}

	n.metrics.ObservePublish()
	for _, inbox := range inboxes {
		n.dispatcher.Deliver(as, inbox, body, "create")
	}
	n.logger.Info("post fanned out",
		zap.Int64("post_id", post.ID),
		zap.Int64("profile_id", post.ProfileID),
		zap.Int("recipients", len(inboxes)))
	return len(inboxes), nil
}
