package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/optimistic"
)

// TableMessages holds the team chat.
const TableMessages = "messages"

// MaxMessageLength bounds a chat message.
const MaxMessageLength = 4000

// Message is a chat message as displayed, with sender and mentioned
// names filled from the profile cache.
type Message struct {
	ID           string    `json:"id" yaml:"id"`
	Content      string    `json:"content" yaml:"content"`
	SenderID     string    `json:"sender_id" yaml:"sender_id"`
	SenderName   string    `json:"sender_name" yaml:"sender_name"`
	SenderAvatar string    `json:"sender_avatar,omitempty" yaml:"sender_avatar,omitempty"`
	Mentions     []string  `json:"mentions" yaml:"mentions"`
	MentionedIDs []string  `json:"mentioned_ids" yaml:"mentioned_ids"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	Pending      bool      `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Chat is the team chat. Sends are optimistic: the message shows up at
// once as a pending placeholder and is swapped for the stored record when
// its INSERT event arrives.
type Chat struct {
	env     *env
	logger  logging.Logger
	records *Collection[Message]
	list    *optimistic.List[Message]
}

func newChat(e *env) *Chat {
	c := &Chat{env: e, logger: e.component("chat")}
	c.list = optimistic.New(optimistic.Config[Message]{
		Entity: "message",
		ID:     func(m Message) string { return m.ID },
		// The stored record is the placeholder's echo when the text matches.
		Matches: func(p, r Message) bool { return p.Content == r.Content },
		Logger:  c.logger,
		Metrics: e.metrics,
		Tracer:  e.tracer,
	})
	c.records = newCollection(e, "messages", []string{TableMessages, mentions.KindMessage.Table()}, c.fetch)
	c.records.onEvent = c.onEvent
	c.records.Watch(func() { c.list.Reset(c.records.Items()) })
	return c
}

func (c *Chat) fetch(ctx context.Context) ([]Message, error) {
	rows, err := c.env.tables.Select(ctx, TableMessages, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		m := c.fromRow(r)
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return msgs, nil
	}

	recs, err := c.env.mentions.Store().ForEntities(ctx, mentions.KindMessage, ids)
	if err != nil {
		return nil, err
	}
	byMsg := map[string][]string{}
	for _, rec := range recs {
		byMsg[rec.EntityID] = append(byMsg[rec.EntityID], rec.MentionedUserID)
	}
	for i := range msgs {
		c.withMentions(&msgs[i], byMsg[msgs[i].ID])
	}
	return msgs, nil
}

func (c *Chat) fromRow(r backend.Row) Message {
	sender := c.env.person(r.String("sender_id"), UnknownUserName)
	return Message{
		ID:           r.String("id"),
		Content:      r.String("content"),
		SenderID:     r.String("sender_id"),
		SenderName:   sender.Name,
		SenderAvatar: sender.AvatarURL,
		Mentions:     []string{},
		MentionedIDs: []string{},
		CreatedAt:    r.Time("created_at"),
	}
}

func (c *Chat) withMentions(m *Message, ids []string) {
	m.MentionedIDs = nonNil(ids)
	m.Mentions = make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.env.profiles.Get(id); ok {
			m.Mentions = append(m.Mentions, p.Name)
		}
	}
}

// onEvent folds new messages straight into the list; everything else
// (edits, deletes, mention rows, key-only rows) triggers a refetch.
func (c *Chat) onEvent(ev backend.ChangeEvent) bool {
	if ev.Table != TableMessages || ev.Type != backend.EventInsert || ev.New == nil || ev.Partial() {
		return false
	}
	m := c.fromRow(ev.New)
	if c.list.Reconcile(m) {
		c.logger.Debug("Placeholder reconciled", logging.F("message_id", m.ID))
	}
	c.records.Mutate(func(list []Message) []Message {
		for _, existing := range list {
			if existing.ID == m.ID {
				return list
			}
		}
		return append(list, m)
	})
	return true
}

// Start subscribes to chat changes and loads the history.
func (c *Chat) Start(ctx context.Context) error { return c.records.Start(ctx) }

// Close stops the change feed consumer.
func (c *Chat) Close() error { return c.records.Close() }

// Refresh refetches the history.
func (c *Chat) Refresh(ctx context.Context) error { return c.records.Refresh(ctx) }

// Loading is true until the first fetch attempt finishes.
func (c *Chat) Loading() bool { return c.records.Loading() }

// Messages returns the history followed by pending placeholders.
func (c *Chat) Messages() []Message { return c.list.Items() }

// Pending returns the number of unconfirmed sends.
func (c *Chat) Pending() int { return c.list.Pending() }

// Send posts content as the signed-in user. The placeholder is rolled
// back when the message insert fails. Mention records for the resolved
// ids are written after the message; their failure is returned but keeps
// the message.
func (c *Chat) Send(ctx context.Context, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("message is empty: %w", tderrors.ErrValidation)
	}
	if len([]rune(content)) > MaxMessageLength {
		return Message{}, fmt.Errorf("message exceeds %d characters: %w", MaxMessageLength, tderrors.ErrValidation)
	}
	senderID, err := c.env.currentUser(ctx)
	if err != nil {
		return Message{}, err
	}
	res := c.env.mentions.Resolve(content)
	sender := c.env.person(senderID, UnknownUserName)

	var stored Message
	var storedRow backend.Row
	var mentionErr error
	_, err = c.list.Send(ctx,
		func(tempID string) Message {
			m := Message{
				ID:           tempID,
				Content:      content,
				SenderID:     senderID,
				SenderName:   sender.Name,
				SenderAvatar: sender.AvatarURL,
				CreatedAt:    c.env.now().UTC(),
				Pending:      true,
			}
			c.withMentions(&m, res.UserIDs)
			return m
		},
		func(ctx context.Context, _ Message) error {
			rows, err := c.env.tables.Insert(ctx, TableMessages, backend.Row{"content": content, "sender_id": senderID})
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}
			storedRow = rows[0]
			stored = c.fromRow(storedRow)
			c.withMentions(&stored, res.UserIDs)
			if len(res.UserIDs) > 0 {
				mentionErr = c.env.mentions.Store().Replace(ctx, mentions.KindMessage, stored.ID, res.UserIDs)
			}
			return nil
		})
	if err != nil {
		return Message{}, err
	}
	// Without a change feed no echo will arrive.
	if c.env.feed == nil {
		c.onEvent(backend.ChangeEvent{Type: backend.EventInsert, Table: TableMessages, New: storedRow})
	}
	if mentionErr != nil {
		return stored, fmt.Errorf("saving mentions for message %s: %w", stored.ID, mentionErr)
	}
	return stored, nil
}
