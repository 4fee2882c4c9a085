// Package domain holds the persisted entities of a match.
package domain

import (
	"time"

	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

// Match is one running game. CurrentCardID is nil until the first round.
type Match struct {
	ID             uint         `gorm:"primaryKey"`
	Phase          engine.Phase `gorm:"size:16;not null;index"`
	TimerExpiresAt time.Time    `gorm:"not null"`
	CurrentCardID  *uint
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// Card is immutable once inserted and only deleted with its match.
type Card struct {
	ID      uint            `gorm:"primaryKey"`
	MatchID uint            `gorm:"index:idx_cards_match_type;not null"`
	Type    engine.CardType `gorm:"index:idx_cards_match_type;size:16;not null"`
	Text    string          `gorm:"type:text;not null"`
}

type Participant struct {
	ID        uint      `gorm:"primaryKey"`
	PlayerID  string    `gorm:"uniqueIndex;size:64;not null"`
	Name      string    `gorm:"size:255;not null"`
	MatchID   uint      `gorm:"index;not null"`
	Score     int       `gorm:"not null;default:0"`
	Picking   bool      `gorm:"not null;default:false"`
	Spectator bool      `gorm:"not null;default:false"`
	AFKRounds int       `gorm:"not null;default:0"`
	TimeoutAt time.Time `gorm:"index;not null"`
	OrderKey  *int
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// HandCard is one fill card on a participant's hand. ChoiceSlot is its
// position in the submitted set, nil while not chosen.
type HandCard struct {
	ID            uint `gorm:"primaryKey"`
	ParticipantID uint `gorm:"index;not null"`
	CardID        uint `gorm:"not null"`
	Card          Card `gorm:"foreignKey:CardID"`
	ChoiceSlot    *int
}

type ChatKind string

const (
	ChatSystem ChatKind = "system"
	ChatUser   ChatKind = "user"
)

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey"`
	MatchID   uint      `gorm:"index;not null"`
	Kind      ChatKind  `gorm:"size:16;not null"`
	Author    string    `gorm:"size:255"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// Models lists every entity for schema migration.
func Models() []any {
	return []any{&Match{}, &Card{}, &Participant{}, &HandCard{}, &ChatMessage{}}
}
