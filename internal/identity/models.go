package identity

import (
	"fmt"
	"strings"
	"time"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/faults"
)

// AccessLevel controls what a recognized person may do at the door.
type AccessLevel string

const (
	AccessAdmin    AccessLevel = "admin"
	AccessFamily   AccessLevel = "family"
	AccessFriend   AccessLevel = "friend"
	AccessStranger AccessLevel = "stranger"
)

// ParseAccessLevel normalizes a user-supplied access level.
func ParseAccessLevel(value string) (AccessLevel, error) {
	switch level := AccessLevel(strings.ToLower(strings.TrimSpace(value))); level {
	case AccessAdmin, AccessFamily, AccessFriend, AccessStranger:
		return level, nil
	default:
		return "", faults.Wrap(faults.ErrValidation, "identity", "parse access level", fmt.Sprintf("unknown access level %q", value), nil)
	}
}

// OpensDoor reports whether a verified, live person at this level unlocks the door.
func (a AccessLevel) OpensDoor() bool {
	return a == AccessAdmin || a == AccessFamily
}

// Identity is an enrolled person. Mean is nil exactly when SampleCount is zero.
type Identity struct {
	ID          int64            `json:"id"`
	DisplayName string           `json:"name"`
	AccessLevel AccessLevel      `json:"access_level"`
	SampleCount int              `json:"num_embeddings"`
	Mean        embedding.Vector `json:"-"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Sample is one enrolled face embedding. Labels are unique per identity.
type Sample struct {
	IdentityID int64            `json:"user_id"`
	Label      string           `json:"img_name"`
	Embedding  embedding.Vector `json:"-"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Update is a partial modification of an identity's descriptive fields.
type Update struct {
	DisplayName *string
	AccessLevel *AccessLevel
}

// Change describes an identity modification pushed to listeners. Nil fields
// were not touched. New marks a freshly created identity and carries both
// fields. Deleted supersedes everything else.
type Change struct {
	ID          int64
	DisplayName *string
	AccessLevel *AccessLevel
	New         bool
	Deleted     bool
}

// Listener receives post-commit notifications in commit order. Delivery is
// synchronous on a writing goroutine; a listener may call back into the
// store, and the resulting notice is delivered after the current one.
type Listener interface {
	EmbeddingChanged(id int64, mean embedding.Vector)
	IdentityChanged(change Change)
}
