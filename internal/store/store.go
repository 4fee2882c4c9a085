// Package store defines the unit of work the match engine runs in.
//
// Every request runs inside exactly one Store.WithinTx call. Locking a
// match through Tx.GetMatch is the mutual exclusion boundary for that
// match and everything it owns until the unit of work ends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: conflicting record")
)

type Store interface {
	// WithinTx runs fn in a transaction. It commits when fn returns nil
	// and rolls back otherwise. fn may be retried on serialization
	// failures so it must not have side effects outside the Tx.
	WithinTx(ctx context.Context, fn func(Tx) error) error
	Migrate(ctx context.Context) error
	Close() error
}

type Tx interface {
	MatchRepository
	CardRepository
	ParticipantRepository
	HandRepository
	ChatRepository
}

type MatchRepository interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
	// GetMatch loads and locks the match row.
	GetMatch(ctx context.Context, id uint) (*domain.Match, error)
	UpdateMatch(ctx context.Context, m *domain.Match) error
	// DeleteMatch removes the match with its cards, participants, hands and
	// chat.
	DeleteMatch(ctx context.Context, id uint) error
	ListMatches(ctx context.Context) ([]domain.Match, error)
	EmptyMatchIDs(ctx context.Context) ([]uint, error)
}

type CardRepository interface {
	CreateCards(ctx context.Context, cards []domain.Card) error
	GetCard(ctx context.Context, id uint) (*domain.Card, error)
	// RandomCards samples up to n cards of type t from the match, skipping
	// the excluded ids.
	RandomCards(ctx context.Context, matchID uint, t engine.CardType, n int, exclude []uint) ([]domain.Card, error)
}

type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	// Participants returns the roster of a match in join order.
	Participants(ctx context.Context, matchID uint) ([]domain.Participant, error)
	ParticipantByPlayer(ctx context.Context, playerID string) (*domain.Participant, error)
	UpdateParticipant(ctx context.Context, p *domain.Participant) error
	// DeleteParticipant removes the participant and its hand.
	DeleteParticipant(ctx context.Context, id uint) error
	ExpiredParticipants(ctx context.Context, now time.Time) ([]domain.Participant, error)
}

type HandRepository interface {
	// HandCards returns the participant's hand with cards preloaded, in
	// draw order.
	HandCards(ctx context.Context, participantID uint) ([]domain.HandCard, error)
	CreateHandCards(ctx context.Context, cards []domain.HandCard) error
	UpdateHandCard(ctx context.Context, hc *domain.HandCard) error
	DeleteHandCards(ctx context.Context, ids []uint) error
}

type ChatRepository interface {
	AppendChat(ctx context.Context, msg *domain.ChatMessage) error
	// ChatSince returns messages with an id greater than afterID, oldest
	// first.
	ChatSince(ctx context.Context, matchID, afterID uint, limit int) ([]domain.ChatMessage, error)
}
