package priority

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/behavior"
	"github.com/BaSui01/batchflow/types"
)

// Behavior bonus thresholds. A highly engaged or fast-responding user gets
// up to +2 on top of the base score.
const (
	engagementBonusThreshold = 0.7
	fastResponderMs          = 2000
)

// SmartScorer augments the base scorer with per-user behavior signals from a
// behavior.Store. Given identical inputs and store state it is as
// deterministic as the base scorer; store errors degrade to the base score.
type SmartScorer struct {
	base   *Scorer
	store  behavior.Store
	logger *zap.Logger
}

// NewSmartScorer creates a behavior-augmented classifier.
func NewSmartScorer(opts Options, store behavior.Store, logger *zap.Logger) *SmartScorer {
	return &SmartScorer{
		base:   NewScorer(opts),
		store:  store,
		logger: logger.With(zap.String("component", "priority")),
	}
}

// Score computes base priority plus behavior bonuses, clamped to
// [0,MaxPriority].
func (s *SmartScorer) Score(ctx context.Context, u *types.Unit) (int, error) {
	score, err := s.base.Score(ctx, u)
	if err != nil {
		return 0, err
	}

	profile, err := s.store.Get(ctx, u.UserID)
	if err != nil {
		if !errors.Is(err, behavior.ErrProfileNotFound) {
			s.logger.Debug("behavior lookup failed, using base score",
				zap.String("user_id", u.UserID), zap.Error(err))
		}
		return score, nil
	}

	if profile.EngagementScore >= engagementBonusThreshold {
		score++
	}
	if profile.AvgResponseMs > 0 && profile.AvgResponseMs < fastResponderMs {
		score++
	}

	return clamp(score), nil
}
