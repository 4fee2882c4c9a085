package engine

import (
	"errors"
	"fmt"
)

var ErrPermissionDenied = errors.New("permission denied")
var ErrNotFound = errors.New("not found")
var ErrValidation = errors.New("validation failed")

type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseChoosing Phase = "choosing"
	PhasePicking  Phase = "picking"
	PhaseCooldown Phase = "cooldown"
	PhaseEnding   Phase = "ending"
)

type CardType string

const (
	CardPrompt CardType = "prompt"
	CardObject CardType = "object"
	CardAction CardType = "action"
)

// FillTypes are the card types dealt onto hands, in display order.
var FillTypes = []CardType{CardObject, CardAction}

// CardTypes lists every card type a deck must carry.
var CardTypes = []CardType{CardPrompt, CardObject, CardAction}

// Advance returns the phase that follows p once its timer elapses.
// The second value is false for ENDING, whose expiry deletes the match.
func Advance(p Phase) (Phase, bool) {
	switch p {
	case PhasePending:
		return PhaseChoosing, true
	case PhaseChoosing:
		return PhasePicking, true
	case PhasePicking:
		return PhaseCooldown, true
	case PhaseCooldown:
		return PhaseChoosing, true
	default:
		return p, false
	}
}

// Started reports whether a round is running, i.e. the minimum player
// rule applies.
func Started(p Phase) bool {
	return p != PhasePending && p != PhaseEnding
}

// ChoicesVisible reports whether submitted cards of other players are
// shown unredacted in phase p.
func ChoicesVisible(p Phase) bool {
	return p == PhasePicking || p == PhaseCooldown || p == PhaseEnding
}

type EventType string

const (
	EvtMatchCreated     EventType = "MatchCreated"
	EvtJoined           EventType = "Joined"
	EvtSpectating       EventType = "Spectating"
	EvtLeft             EventType = "Left"
	EvtTimedOut         EventType = "TimedOut"
	EvtKickedAFK        EventType = "KickedAFK"
	EvtTimerRestarted   EventType = "TimerRestarted"
	EvtMatchEnding      EventType = "MatchEnding"
	EvtDeckInsufficient EventType = "DeckInsufficient"
	EvtChooseFailed     EventType = "ChooseFailed"
	EvtTooFewChoices    EventType = "TooFewChoices"
	EvtNoWinner         EventType = "NoWinner"
	EvtRoundWon         EventType = "RoundWon"
	EvtGameOver         EventType = "GameOver"
	EvtGameWon          EventType = "GameWon"
	EvtPickerLeft       EventType = "PickerLeft"
	EvtSkipped          EventType = "Skipped"
)

// Event is a system notice raised by the match engine. Name is the
// participant the notice is about, if any.
type Event struct {
	Type EventType
	Name string
}

// Message renders the notice as it appears in the match chat.
func (e Event) Message() string {
	switch e.Type {
	case EvtMatchCreated:
		return "Match was created."
	case EvtJoined:
		return fmt.Sprintf("%s joined.", e.Name)
	case EvtSpectating:
		return fmt.Sprintf("%s is now spectating.", e.Name)
	case EvtLeft:
		return fmt.Sprintf("%s left.", e.Name)
	case EvtTimedOut:
		return fmt.Sprintf("%s timed out.", e.Name)
	case EvtKickedAFK:
		return fmt.Sprintf("%s was kicked for being AFK for two rounds.", e.Name)
	case EvtTimerRestarted:
		return "There are not enough players, the timer has been restarted!"
	case EvtMatchEnding:
		return "Match is ending."
	case EvtDeckInsufficient:
		return "Your deck is insufficient. Placeholder cards have been added to the match."
	case EvtChooseFailed:
		return fmt.Sprintf("%s failed to choose cards!", e.Name)
	case EvtTooFewChoices:
		return "Too few valid choices!"
	case EvtNoWinner:
		return "No winner was picked!"
	case EvtRoundWon:
		return fmt.Sprintf("%s won the round!", e.Name)
	case EvtGameOver:
		return "Game over!"
	case EvtGameWon:
		return fmt.Sprintf("%s won the game!", e.Name)
	case EvtPickerLeft:
		return "The picker left!"
	case EvtSkipped:
		return fmt.Sprintf("%s skipped to the next phase.", e.Name)
	default:
		return string(e.Type)
	}
}
