// Package types holds the JSON shapes served to polling clients.
package types

import "time"

// Status is the per-viewer summary of a match, polled every second or so.
type Status struct {
	MatchID     uint   `json:"matchId"`
	Phase       string `json:"phase"`
	Timer       int    `json:"timer"`
	StatusText  string `json:"statusText"`
	Ending      bool   `json:"ending"`
	HasCard     bool   `json:"hasCard"`
	CardText    string `json:"cardText,omitempty"`
	Gaps        int    `json:"gaps"`
	IsPicker    bool   `json:"isPicker"`
	AllowChoose bool   `json:"allowChoose"`
	AllowPick   bool   `json:"allowPick"`
	IsSpectator bool   `json:"isSpectator"`
	CanSkip     bool   `json:"canSkip"`
}

type ParticipantView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Picking   bool   `json:"picking"`
	Spectator bool   `json:"spectator,omitempty"`
}

type HandCardView struct {
	ID         uint   `json:"id"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	ChoiceSlot *int   `json:"choiceSlot"`
}

// PlayedCard is one submitted card. Redacted cards carry no text.
type PlayedCard struct {
	Text     string `json:"text,omitempty"`
	Redacted bool   `json:"redacted,omitempty"`
}

// PlayedSet is the cards one player submitted this round. ID is the
// player's shuffled order key, not their participant id.
type PlayedSet struct {
	ID    int          `json:"id"`
	Own   bool         `json:"own,omitempty"`
	Cards []PlayedCard `json:"cards"`
}

type CardsView struct {
	Hand   map[string][]HandCardView `json:"hand"`
	Played []PlayedSet               `json:"played"`
}

type ChatMessage struct {
	ID        uint      `json:"id"`
	Kind      string    `json:"kind"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatView struct {
	Messages []ChatMessage `json:"messages"`
	Offset   uint          `json:"offset"`
}

type MatchSummary struct {
	ID       uint   `json:"id"`
	Phase    string `json:"phase"`
	Owner    string `json:"owner"`
	Players  int    `json:"players"`
	Timer    int    `json:"timer"`
	Joinable bool   `json:"joinable"`
}
