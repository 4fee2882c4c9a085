package match

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

type Match struct {
	reg     *Registry
	m       *domain.Match
	roster  []*Participant // join order, spectators included
	card    *domain.Card
	chat    *Chat
	deleted bool
}

func (m *Match) ID() uint                  { return m.m.ID }
func (m *Match) Phase() engine.Phase       { return m.m.Phase }
func (m *Match) TimerExpiresAt() time.Time { return m.m.TimerExpiresAt }
func (m *Match) Chat() *Chat               { return m.chat }
func (m *Match) Deleted() bool             { return m.deleted }

// Card is the current prompt card, nil before the first round.
func (m *Match) Card() *domain.Card { return m.card }

// Participants returns the whole roster in join order.
func (m *Match) Participants() []*Participant {
	return append([]*Participant(nil), m.roster...)
}

// Players returns the non-spectating participants in join order.
func (m *Match) Players() []*Participant {
	var out []*Participant
	for _, p := range m.roster {
		if !p.p.Spectator {
			out = append(out, p)
		}
	}
	return out
}

// Owner is the longest present player. Nil if only spectators are left.
func (m *Match) Owner() *Participant {
	for _, p := range m.roster {
		if !p.p.Spectator {
			return p
		}
	}
	return nil
}

func (m *Match) Picker() *Participant {
	for _, p := range m.roster {
		if p.p.Picking && !p.p.Spectator {
			return p
		}
	}
	return nil
}

func (m *Match) participant(id uint) *Participant {
	for _, p := range m.roster {
		if p.p.ID == id {
			return p
		}
	}
	return nil
}

func (m *Match) now() time.Time { return m.reg.now() }

// SecondsToNextPhase may be negative when a transition is overdue.
func (m *Match) SecondsToNextPhase() int {
	return int(m.m.TimerExpiresAt.Sub(m.now()) / time.Second)
}

func (m *Match) remaining() time.Duration {
	return m.m.TimerExpiresAt.Sub(m.now())
}

// CardGapCount is the number of cards each player submits this round.
func (m *Match) CardGapCount() int {
	if m.card == nil {
		return 1
	}
	return engine.GapCount(m.card.Text)
}

func (m *Match) save(ctx context.Context) error {
	return storeErr(m.reg.tx.UpdateMatch(ctx, m.m))
}

func (m *Match) setTimer(d time.Duration) {
	m.m.TimerExpiresAt = m.now().Add(d)
}

func (m *Match) notice(ctx context.Context, e engine.Event) error {
	m.reg.log.Debug("match notice",
		zap.Uint("match_id", m.m.ID),
		zap.String("event", string(e.Type)),
		zap.String("name", e.Name))
	return m.chat.Notice(ctx, e)
}

func (m *Match) guard() error {
	if m.deleted {
		return fmt.Errorf("match %d deleted: %w", m.m.ID, engine.ErrPermissionDenied)
	}
	return nil
}

// AddUser adds a player. Joining is only possible before the first round.
func (m *Match) AddUser(ctx context.Context, u User, timeout time.Duration) (*Participant, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if m.m.Phase != engine.PhasePending {
		return nil, fmt.Errorf("match %d already started: %w", m.m.ID, engine.ErrPermissionDenied)
	}
	p, err := m.add(ctx, u, false, timeout)
	if err != nil {
		return nil, err
	}
	if err := m.notice(ctx, engine.Event{Type: engine.EvtJoined, Name: p.Name()}); err != nil {
		return nil, err
	}
	if m.remaining() < engine.JoinBonusThreshold {
		m.setTimer(engine.JoinBonusThreshold)
		if err := m.save(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddSpectator adds a watcher without a hand. Spectators may join any
// match that is not ending.
func (m *Match) AddSpectator(ctx context.Context, u User, timeout time.Duration) (*Participant, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if m.m.Phase == engine.PhaseEnding {
		return nil, fmt.Errorf("match %d is ending: %w", m.m.ID, engine.ErrPermissionDenied)
	}
	p, err := m.add(ctx, u, true, timeout)
	if err != nil {
		return nil, err
	}
	if err := m.notice(ctx, engine.Event{Type: engine.EvtSpectating, Name: p.Name()}); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Match) add(ctx context.Context, u User, spectator bool, timeout time.Duration) (*Participant, error) {
	if old, ok := m.reg.players[u.PlayerID]; ok && !old.gone {
		return nil, fmt.Errorf("player already in match %d: %w", old.match.ID(), engine.ErrPermissionDenied)
	}
	dp := &domain.Participant{
		PlayerID:  u.PlayerID,
		Name:      u.Name,
		MatchID:   m.m.ID,
		Spectator: spectator,
		TimeoutAt: m.now().Add(timeout),
		CreatedAt: m.now(),
	}
	if err := m.reg.tx.CreateParticipant(ctx, dp); err != nil {
		return nil, storeErr(err)
	}
	p := &Participant{match: m, p: dp, hand: &Hand{loaded: true}}
	p.hand.part = p
	m.roster = append(m.roster, p)
	m.reg.players[u.PlayerID] = p
	return p, nil
}

// CreateDeck stores the parsed deck plus placeholders for every card type
// the deck is short of.
func (m *Match) CreateDeck(ctx context.Context, d engine.Deck) error {
	all := d.All()
	cards := make([]domain.Card, len(all))
	for i, c := range all {
		cards[i] = domain.Card{MatchID: m.m.ID, Text: c.Text, Type: c.Type}
	}
	if err := m.reg.tx.CreateCards(ctx, cards); err != nil {
		return err
	}
	if d.Insufficient() {
		return m.notice(ctx, engine.Event{Type: engine.EvtDeckInsufficient})
	}
	return nil
}

// RemoveParticipant drops p from the match, posting reason as the notice.
// A leaving picker aborts a running round.
func (m *Match) RemoveParticipant(ctx context.Context, p *Participant, reason engine.EventType) error {
	idx := -1
	for i, q := range m.roster {
		if q == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	if err := m.notice(ctx, engine.Event{Type: reason, Name: p.Name()}); err != nil {
		return err
	}

	wasPicker := p.p.Picking && !p.p.Spectator
	playerIdx := -1
	if wasPicker {
		for i, q := range m.Players() {
			if q == p {
				playerIdx = i
			}
		}
	}

	if err := m.reg.tx.DeleteParticipant(ctx, p.p.ID); err != nil {
		return storeErr(err)
	}
	m.roster = append(m.roster[:idx:idx], m.roster[idx+1:]...)
	p.gone = true
	m.reg.log.Info("participant removed",
		zap.Uint("match_id", m.m.ID),
		zap.String("player_id", p.p.PlayerID),
		zap.String("reason", string(reason)))

	if wasPicker {
		return m.pickerLeft(ctx, playerIdx)
	}
	return nil
}

// pickerLeft hands the picker flag to the player before the one who left,
// so the next rotation continues with the player after them. Passing it
// forward instead would make the next player lose their turn as picker.
// A running round is aborted and chosen cards go back to the hands.
func (m *Match) pickerLeft(ctx context.Context, leftIdx int) error {
	players := m.Players()
	if len(players) > 0 {
		prev := players[engine.PreviousIndex(leftIdx, len(players))]
		if err := prev.SetPicking(ctx, true); err != nil {
			return err
		}
	}

	if m.m.Phase != engine.PhaseChoosing && m.m.Phase != engine.PhasePicking {
		return nil
	}
	if err := m.notice(ctx, engine.Event{Type: engine.EvtPickerLeft}); err != nil {
		return err
	}
	for _, p := range players {
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if err := h.UnchooseAll(ctx); err != nil {
			return err
		}
	}
	return m.setPhase(ctx, engine.PhaseCooldown)
}

// Delete removes the match and everything it owns.
func (m *Match) Delete(ctx context.Context) error {
	if m.deleted {
		return nil
	}
	if err := m.reg.tx.DeleteMatch(ctx, m.m.ID); err != nil {
		return storeErr(err)
	}
	m.deleted = true
	for _, p := range m.roster {
		p.gone = true
	}
	m.reg.log.Info("match deleted", zap.Uint("match_id", m.m.ID))
	return nil
}

// Skip expires the current phase timer. Only the owner of a running match
// with enough players may skip.
func (m *Match) Skip(ctx context.Context, p *Participant) error {
	if err := m.guard(); err != nil {
		return err
	}
	if !m.CanSkip(p) {
		return fmt.Errorf("skip by %s: %w", p.p.PlayerID, engine.ErrPermissionDenied)
	}
	if m.remaining() <= engine.SkipThreshold {
		return nil
	}
	m.m.TimerExpiresAt = m.now()
	if err := m.save(ctx); err != nil {
		return err
	}
	return m.notice(ctx, engine.Event{Type: engine.EvtSkipped, Name: p.Name()})
}

func (m *Match) CanSkip(p *Participant) bool {
	if m.deleted || m.m.Phase == engine.PhaseEnding {
		return false
	}
	if len(m.Players()) < engine.MinimumPlayers {
		return false
	}
	return m.Owner() == p
}
