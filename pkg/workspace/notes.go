package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
)

// TableNotes holds shared and private notes.
const TableNotes = "notes"

// Note is a notebook entry. Title and content both carry mentions.
type Note struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Content        string    `json:"content" yaml:"content"`
	Notebook       string    `json:"notebook" yaml:"notebook"`
	IsShared       bool      `json:"is_shared" yaml:"is_shared"`
	CreatedBy      string    `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	LastModifiedBy string    `json:"last_modified_by,omitempty" yaml:"last_modified_by,omitempty"`
	LastModified   time.Time `json:"last_modified" yaml:"last_modified"`
	Mentioned      []string  `json:"mentioned" yaml:"mentioned"`
}

// NewNote is the input of Create.
type NewNote struct {
	Title    string `validate:"required,max=500"`
	Content  string `validate:"max=100000"`
	Notebook string `validate:"omitempty,max=100"`
	IsShared bool
}

// NoteUpdate is a partial update; nil fields are left alone.
type NoteUpdate struct {
	Title    *string `validate:"omitempty,min=1,max=500"`
	Content  *string `validate:"omitempty,max=100000"`
	Notebook *string `validate:"omitempty,max=100"`
	IsShared *bool
}

// Notes is the live notebook list.
type Notes struct {
	*Collection[Note]
	env    *env
	logger logging.Logger
}

func newNotes(e *env) *Notes {
	n := &Notes{env: e, logger: e.component("notes")}
	n.Collection = newCollection(e, "notes", []string{TableNotes, mentions.KindNote.Table()}, n.fetch)
	return n
}

func (n *Notes) fetch(ctx context.Context) ([]Note, error) {
	rows, err := n.env.tables.Select(ctx, TableNotes, backend.Query{}.OrderBy("updated_at", true))
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		note := noteFromRow(r)
		out = append(out, note)
		ids = append(ids, note.ID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	recs, err := n.env.mentions.Store().ForEntities(ctx, mentions.KindNote, ids)
	if err != nil {
		return nil, err
	}
	byNote := map[string][]string{}
	for _, rec := range recs {
		byNote[rec.EntityID] = append(byNote[rec.EntityID], rec.MentionedUserID)
	}
	for i := range out {
		out[i].Mentioned = nonNil(byNote[out[i].ID])
	}
	return out, nil
}

func noteFromRow(r backend.Row) Note {
	return Note{
		ID:             r.String("id"),
		Title:          r.String("title"),
		Content:        r.String("content"),
		Notebook:       stringOr(r.String("notebook"), DefaultNotebook),
		IsShared:       r.Bool("is_shared"),
		CreatedBy:      r.String("created_by"),
		LastModifiedBy: r.String("last_modified_by"),
		LastModified:   r.Time("updated_at"),
		Mentioned:      []string{},
	}
}

// Get returns a note from the snapshot.
func (n *Notes) Get(id string) (Note, bool) {
	for _, note := range n.Items() {
		if note.ID == id {
			return note, true
		}
	}
	return Note{}, false
}

// Create stores a note and replaces its mention records from title and
// content. A mention failure is returned alongside the stored note.
func (n *Notes) Create(ctx context.Context, in NewNote) (Note, error) {
	if err := validateInput(in); err != nil {
		return Note{}, err
	}
	userID, err := n.env.currentUser(ctx)
	if err != nil {
		return Note{}, err
	}
	rows, err := n.env.tables.Insert(ctx, TableNotes, backend.Row{
		"title":            in.Title,
		"content":          in.Content,
		"notebook":         stringOr(in.Notebook, DefaultNotebook),
		"is_shared":        in.IsShared,
		"created_by":       userID,
		"last_modified_by": userID,
	})
	if err != nil {
		n.logger.Error("Error creating note", logging.Err(err))
		return Note{}, fmt.Errorf("creating note: %w", err)
	}
	note := noteFromRow(rows[0])

	res, err := n.env.mentions.Save(ctx, mentions.KindNote, note.ID, note.Title, note.Content)
	note.Mentioned = nonNil(res.UserIDs)
	n.Mutate(func(list []Note) []Note {
		return putFirst(list, note, func(n Note) string { return n.ID })
	})
	if err != nil {
		return note, fmt.Errorf("saving mentions for note %s: %w", note.ID, err)
	}
	return note, nil
}

// Update applies a partial update and replaces the note's mention records
// from the stored title and content.
func (n *Notes) Update(ctx context.Context, id string, u NoteUpdate) (Note, error) {
	if err := validateInput(u); err != nil {
		return Note{}, err
	}
	userID, err := n.env.currentUser(ctx)
	if err != nil {
		return Note{}, err
	}
	values := backend.Row{"last_modified_by": userID}
	if u.Title != nil {
		values["title"] = *u.Title
	}
	if u.Content != nil {
		values["content"] = *u.Content
	}
	if u.Notebook != nil {
		values["notebook"] = *u.Notebook
	}
	if u.IsShared != nil {
		values["is_shared"] = *u.IsShared
	}
	rows, err := n.env.tables.Update(ctx, TableNotes, values, backend.Eq("id", id))
	if err != nil {
		n.logger.Error("Error updating note", logging.F("note_id", id), logging.Err(err))
		return Note{}, fmt.Errorf("updating note %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Note{}, fmt.Errorf("note %s: %w", id, tderrors.ErrNotFound)
	}
	note := noteFromRow(rows[0])

	res, mentionErr := n.env.mentions.Save(ctx, mentions.KindNote, id, note.Title, note.Content)
	note.Mentioned = nonNil(res.UserIDs)
	n.Mutate(func(list []Note) []Note {
		out := make([]Note, len(list))
		for i, existing := range list {
			if existing.ID == id {
				existing = note
			}
			out[i] = existing
		}
		return out
	})
	if mentionErr != nil {
		return note, fmt.Errorf("saving mentions for note %s: %w", id, mentionErr)
	}
	return note, nil
}

// Delete removes a note together with its mention records.
func (n *Notes) Delete(ctx context.Context, id string) error {
	if err := n.env.mentions.Store().Replace(ctx, mentions.KindNote, id, nil); err != nil {
		return fmt.Errorf("clearing mentions for note %s: %w", id, err)
	}
	if err := n.env.tables.Delete(ctx, TableNotes, backend.Eq("id", id)); err != nil {
		n.logger.Error("Error deleting note", logging.F("note_id", id), logging.Err(err))
		return fmt.Errorf("deleting note %s: %w", id, err)
	}
	n.Mutate(func(list []Note) []Note {
		out := make([]Note, 0, len(list))
		for _, note := range list {
			if note.ID != id {
				out = append(out, note)
			}
		}
		return out
	})
	return nil
}
