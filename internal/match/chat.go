package match

import (
	"context"
	"time"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
)

// ChatPageSize caps a single chat poll.
const ChatPageSize = 100

// Chat is the append-only message log of a match.
type Chat struct {
	tx      store.Tx
	matchID uint
	now     func() time.Time
}

func (c *Chat) Notice(ctx context.Context, e engine.Event) error {
	return c.Post(ctx, domain.ChatSystem, "", e.Message())
}

// Post appends a message. Text must already be sanitized.
func (c *Chat) Post(ctx context.Context, kind domain.ChatKind, author, text string) error {
	return c.tx.AppendChat(ctx, &domain.ChatMessage{
		MatchID:   c.matchID,
		Kind:      kind,
		Author:    author,
		Text:      text,
		CreatedAt: c.now(),
	})
}

// Since returns the messages after the given message id.
func (c *Chat) Since(ctx context.Context, afterID uint) ([]domain.ChatMessage, error) {
	return c.tx.ChatSince(ctx, c.matchID, afterID, ChatPageSize)
}
