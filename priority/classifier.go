// Package priority scores inbound units on a 0-10 scale from content,
// channel, and recency signals. The base Scorer is a pure function of the
// unit; SmartScorer additionally consults a behavior store for per-user
// bonuses.
package priority

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/batchflow/types"
)

// Signal weights and bounds. Tunable constants, not load-bearing.
const (
	MaxPriority = 10

	mentionBonus    = 5
	urgencyBonus    = 3
	questionBonus   = 2
	lowLatencyBonus = 2
	recencyBonus    = 1

	recencyWindow = 30 * time.Second
)

// DefaultUrgencyKeywords matches content that usually needs a fast answer.
var DefaultUrgencyKeywords = []string{
	"urgent", "asap", "emergency", "immediately", "right now", "broken",
}

// Classifier assigns a priority in [0,MaxPriority] to a unit.
type Classifier interface {
	Score(ctx context.Context, u *types.Unit) (int, error)
}

// Options configures the base scorer.
type Options struct {
	// MentionTokens are case-insensitive substrings treated as a direct
	// address of the bot (its name, an <@id> mention tag).
	MentionTokens []string
	// UrgencyKeywords override DefaultUrgencyKeywords when non-empty.
	UrgencyKeywords []string
}

// Scorer is the base classifier. It is deterministic and has no side
// effects.
type Scorer struct {
	mentions []string
	keywords []string
}

// NewScorer creates a base classifier.
func NewScorer(opts Options) *Scorer {
	keywords := opts.UrgencyKeywords
	if len(keywords) == 0 {
		keywords = DefaultUrgencyKeywords
	}
	return &Scorer{
		mentions: lowerAll(opts.MentionTokens),
		keywords: lowerAll(keywords),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// Score computes the unit's priority. A malformed unit (missing identity or
// partition) returns a validation error rather than a default score.
func (s *Scorer) Score(_ context.Context, u *types.Unit) (int, error) {
	if err := u.Validate(); err != nil {
		return 0, err
	}

	content := strings.ToLower(u.Content)
	score := 0

	if s.isDirectAddress(u, content) {
		score += mentionBonus
	}
	if containsAny(content, s.keywords) {
		score += urgencyBonus
	}
	// Every question mark counts; the final clamp bounds the total.
	score += questionBonus * strings.Count(u.Content, "?")

	if u.Channel == types.ChannelVoice || u.Channel == types.ChannelStage {
		score += lowLatencyBonus
	}
	if !u.ArrivedAt.IsZero() && u.Age() < recencyWindow {
		score += recencyBonus
	}

	return clamp(score), nil
}

func (s *Scorer) isDirectAddress(u *types.Unit, content string) bool {
	if u.Metadata["mentions_bot"] == "true" {
		return true
	}
	return containsAny(content, s.mentions)
}

func containsAny(content string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxPriority {
		return MaxPriority
	}
	return score
}
