package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// Notification tells the signed-in user they were mentioned in a note.
type Notification struct {
	MentionID   string    `json:"mention_id" yaml:"mention_id"`
	NoteID      string    `json:"note_id" yaml:"note_id"`
	NoteTitle   string    `json:"note_title" yaml:"note_title"`
	MentionedBy string    `json:"mentioned_by" yaml:"mentioned_by"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Notifications is the unread note-mention inbox of the signed-in user.
// Read state is local and kept per note: saving a note rewrites its
// mention records, so record ids do not survive an edit.
type Notifications struct {
	*Collection[Notification]
	env    *env
	logger logging.Logger

	readMu sync.Mutex
	read   map[string]bool // note id
}

func newNotifications(e *env) *Notifications {
	n := &Notifications{env: e, logger: e.component("notifications"), read: map[string]bool{}}
	n.Collection = newCollection(e, "note mentions", []string{mentions.KindNote.Table(), TableNotes}, n.fetch)
	return n
}

func (n *Notifications) fetch(ctx context.Context) ([]Notification, error) {
	userID, err := n.env.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := n.env.mentions.Store().ForUser(ctx, mentions.KindNote, userID)
	if err != nil {
		return nil, err
	}

	n.readMu.Lock()
	unread := make([]mentions.Record, 0, len(recs))
	for _, rec := range recs {
		if !n.read[rec.EntityID] {
			unread = append(unread, rec)
		}
	}
	n.readMu.Unlock()
	if len(unread) == 0 {
		return []Notification{}, nil
	}

	ids := make([]string, 0, len(unread))
	for _, rec := range unread {
		ids = append(ids, rec.EntityID)
	}
	rows, err := n.env.tables.Select(ctx, TableNotes, backend.Query{
		Columns: []string{"id", "title", "created_by", "last_modified_by"},
		Filters: []backend.Filter{backend.In("id", ids...)},
	})
	if err != nil {
		return nil, err
	}
	notes := make(map[string]backend.Row, len(rows))
	for _, r := range rows {
		notes[r.String("id")] = r
	}

	out := make([]Notification, 0, len(unread))
	for _, rec := range unread {
		note, ok := notes[rec.EntityID]
		if !ok {
			continue
		}
		author := note.String("last_modified_by")
		if author == "" {
			author = note.String("created_by")
		}
		out = append(out, Notification{
			MentionID:   rec.ID,
			NoteID:      rec.EntityID,
			NoteTitle:   note.String("title"),
			MentionedBy: n.env.profiles.NameOf(author, profiles.FallbackName),
			CreatedAt:   rec.CreatedAt,
		})
	}
	return out, nil
}

// UnreadCount is the badge number.
func (n *Notifications) UnreadCount() int {
	return len(n.Items())
}

// MarkAllRead clears the inbox locally. Notes listed now stay hidden on
// later refetches, edits included; mentions in other notes show up.
func (n *Notifications) MarkAllRead() {
	items := n.Items()
	n.readMu.Lock()
	for _, it := range items {
		n.read[it.NoteID] = true
	}
	n.readMu.Unlock()
	n.Mutate(func([]Notification) []Notification { return []Notification{} })
	n.logger.Debug("Notifications marked read", logging.F("count", len(items)))
}
