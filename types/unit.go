package types

import "time"

// ChannelKind classifies the channel a unit arrived from. Low-latency
// channels (voice, stage) receive a priority boost during classification.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
	ChannelStage ChannelKind = "stage"
	ChannelDM    ChannelKind = "dm"
)

// Unit is one opaque piece of inbound work to be grouped and processed.
// Units are created by the ingestion layer and discarded once their batch
// completes or fails.
type Unit struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Partition string            `json:"partition"`
	Content   string            `json:"content"`
	Channel   ChannelKind       `json:"channel,omitempty"`
	ArrivedAt time.Time         `json:"arrived_at"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the unit carries the identity fields every downstream
// component depends on. A unit without a user or partition cannot be scored
// or placed and is rejected at the Accept boundary.
func (u *Unit) Validate() error {
	if u == nil {
		return NewError(ErrInvalidUnit, "unit is nil")
	}
	if u.UserID == "" {
		return NewError(ErrInvalidUnit, "unit has no user id")
	}
	if u.Partition == "" {
		return NewError(ErrInvalidUnit, "unit has no partition")
	}
	return nil
}

// Age returns how long ago the unit arrived.
func (u *Unit) Age() time.Duration {
	return time.Since(u.ArrivedAt)
}
