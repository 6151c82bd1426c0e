// Package mentions parses @name mentions out of free text and keeps the
// per-entity mention records in sync with what was saved.
//
// Two grammars are in play on purpose. While typing, a mention ends at the
// first whitespace (Detect). At save time a token may run through single
// spaces to capture multi-word names (Tokens). A name inserted from the
// suggestion list is therefore found by both, but typing "@Maria Rossi" by
// hand stops suggesting after "Maria".
package mentions

import (
	"fmt"
	"time"
)

// Kind is a text-bearing entity that can carry mentions.
type Kind string

const (
	KindNote    Kind = "note"
	KindTask    Kind = "task"
	KindMessage Kind = "message"
)

// Kinds lists every mention-bearing entity.
var Kinds = []Kind{KindNote, KindTask, KindMessage}

// Table returns the join table holding mention records for k.
func (k Kind) Table() string {
	return string(k) + "_mentions"
}

// EntityColumn returns the join table column referencing the entity.
func (k Kind) EntityColumn() string {
	return string(k) + "_id"
}

// Validate checks that k is a known kind.
func (k Kind) Validate() error {
	switch k {
	case KindNote, KindTask, KindMessage:
		return nil
	}
	return fmt.Errorf("unknown mention kind %q", string(k))
}

// MentionedUserColumn is the join table column referencing the profile.
const MentionedUserColumn = "mentioned_user_id"

// Record is a persisted edge between an entity and a mentioned profile.
type Record struct {
	ID              string    `json:"id,omitempty"`
	Kind            Kind      `json:"kind"`
	EntityID        string    `json:"entity_id"`
	MentionedUserID string    `json:"mentioned_user_id"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// Detection is the typing-time state of the caret.
type Detection struct {
	Active bool `json:"active"`

	// Query is the text between the trigger and the caret.
	Query string `json:"query"`

	// TriggerOffset is the rune offset of the triggering '@', or -1.
	TriggerOffset int `json:"trigger_offset"`
}

// Insertion is the result of splicing a selected name into the text.
type Insertion struct {
	Text  string `json:"text"`
	Caret int    `json:"caret"`
}

// Resolution is the save-time outcome for one text.
type Resolution struct {
	// UserIDs are the distinct matched profile ids in order of first mention.
	UserIDs []string `json:"user_ids"`

	// Unmatched holds tokens that matched no profile. They are never an error.
	Unmatched []string `json:"unmatched,omitempty"`
}
