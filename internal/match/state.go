package match

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

// RefreshTimerIfNecessary restarts the PENDING timer when it is about to
// run out and the match still lacks players.
func (m *Match) RefreshTimerIfNecessary(ctx context.Context) error {
	if m.deleted || m.m.Phase != engine.PhasePending {
		return nil
	}
	if m.remaining() >= engine.PendingRefreshThreshold || len(m.Players()) >= engine.MinimumPlayers {
		return nil
	}
	m.setTimer(engine.TimerPending)
	if err := m.save(ctx); err != nil {
		return err
	}
	return m.notice(ctx, engine.Event{Type: engine.EvtTimerRestarted})
}

// UpdateState performs at most one due transition. The conditions are
// evaluated on the locked row, so a second call without the clock moving
// finds nothing to do.
func (m *Match) UpdateState(ctx context.Context) error {
	if m.deleted {
		return nil
	}

	if engine.Started(m.m.Phase) && len(m.Players()) < engine.MinimumPlayers {
		return m.setPhase(ctx, engine.PhaseEnding)
	}

	if m.now().Before(m.m.TimerExpiresAt) {
		return nil
	}

	if m.m.Phase == engine.PhasePicking {
		if picker := m.Picker(); picker != nil {
			if err := picker.MarkAFK(ctx); err != nil {
				return err
			}
		}
		if err := m.notice(ctx, engine.Event{Type: engine.EvtNoWinner}); err != nil {
			return err
		}
	}

	next, ok := engine.Advance(m.m.Phase)
	if !ok {
		return m.Delete(ctx)
	}
	return m.setPhase(ctx, next)
}

func (m *Match) setPhase(ctx context.Context, p engine.Phase) error {
	if err := m.leaveState(ctx); err != nil {
		return err
	}
	m.reg.log.Info("phase changed",
		zap.Uint("match_id", m.m.ID),
		zap.String("from", string(m.m.Phase)),
		zap.String("to", string(p)))
	m.m.Phase = p
	return m.enterState(ctx)
}

func (m *Match) leaveState(ctx context.Context) error {
	if m.m.Phase != engine.PhaseCooldown {
		return nil
	}
	for _, p := range m.Players() {
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if err := h.DeleteChosen(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) enterState(ctx context.Context) error {
	m.setTimer(engine.Duration(m.m.Phase))

	switch m.m.Phase {
	case engine.PhaseChoosing:
		if err := m.selectNextPicker(ctx); err != nil {
			return err
		}
		if err := m.shuffleOrder(ctx); err != nil {
			return err
		}
		if err := m.selectPromptCard(ctx); err != nil {
			return err
		}
		if err := m.replenishHands(ctx); err != nil {
			return err
		}

	case engine.PhasePicking:
		if err := m.unchooseIncomplete(ctx); err != nil {
			return err
		}
		ok, err := m.pickPossible(ctx)
		if err != nil {
			return err
		}
		if !ok {
			if err := m.notice(ctx, engine.Event{Type: engine.EvtTooFewChoices}); err != nil {
				return err
			}
			for _, p := range m.Players() {
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

	case engine.PhaseCooldown:
		if err := m.save(ctx); err != nil {
			return err
		}
		return m.kickAFK(ctx)

	case engine.PhaseEnding:
		if err := m.notice(ctx, engine.Event{Type: engine.EvtMatchEnding}); err != nil {
			return err
		}
	}
	return m.save(ctx)
}

// selectNextPicker moves the picker flag round-robin over the players.
func (m *Match) selectNextPicker(ctx context.Context) error {
	players := m.Players()
	flags := make([]bool, len(players))
	for i, p := range players {
		flags[i] = p.p.Picking
	}
	next := engine.NextPicker(flags)
	for i, p := range players {
		if err := p.SetPicking(ctx, i == next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) shuffleOrder(ctx context.Context) error {
	players := m.Players()
	order := engine.ShuffledOrder(len(players), m.reg.rng)
	for i, p := range players {
		if err := p.AssignOrder(ctx, order[i]); err != nil {
			return err
		}
	}
	return nil
}

// selectPromptCard draws a prompt card different from the current one
// whenever the deck allows it.
func (m *Match) selectPromptCard(ctx context.Context) error {
	var exclude []uint
	if m.card != nil {
		exclude = append(exclude, m.card.ID)
	}
	cards, err := m.reg.tx.RandomCards(ctx, m.m.ID, engine.CardPrompt, 1, exclude)
	if err != nil {
		return err
	}
	if len(cards) == 0 && len(exclude) > 0 {
		cards, err = m.reg.tx.RandomCards(ctx, m.m.ID, engine.CardPrompt, 1, nil)
		if err != nil {
			return err
		}
	}
	if len(cards) == 0 {
		return fmt.Errorf("match %d has no prompt cards", m.m.ID)
	}
	m.card = &cards[0]
	m.m.CurrentCardID = &cards[0].ID
	return nil
}

func (m *Match) replenishHands(ctx context.Context) error {
	for _, p := range m.Players() {
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if err := h.Replenish(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Match) unchooseIncomplete(ctx context.Context) error {
	gaps := m.CardGapCount()
	for _, p := range m.Players() {
		if p.p.Picking {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if h.ChosenCount() >= gaps {
			continue
		}
		if err := h.UnchooseAll(ctx); err != nil {
			return err
		}
		if err := m.notice(ctx, engine.Event{Type: engine.EvtChooseFailed, Name: p.Name()}); err != nil {
			return err
		}
	}
	return nil
}

// pickPossible reports whether at least two players submitted cards. It
// also settles AFK counters: submitting resets them, not submitting counts
// as an AFK round.
func (m *Match) pickPossible(ctx context.Context) (bool, error) {
	n := 0
	for _, p := range m.Players() {
		if p.p.Picking {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return false, err
		}
		if h.ChosenCount() > 0 {
			n++
			err = p.ResetAFK(ctx)
		} else {
			err = p.MarkAFK(ctx)
		}
		if err != nil {
			return false, err
		}
	}
	return n >= 2, nil
}

func (m *Match) kickAFK(ctx context.Context) error {
	for _, p := range m.Players() {
		if p.p.AFKRounds < engine.AFKLimit {
			continue
		}
		if err := m.RemoveParticipant(ctx, p, engine.EvtKickedAFK); err != nil {
			return err
		}
	}
	return nil
}

// ToggleChosen flips the choice state of one of p's hand cards. Outside of
// CHOOSING, for the picker and for spectators it does nothing.
func (m *Match) ToggleChosen(ctx context.Context, p *Participant, handID uint) error {
	if err := m.guard(); err != nil {
		return err
	}
	if !m.AllowChoose(p) {
		return nil
	}
	h, err := p.Hand(ctx)
	if err != nil {
		return err
	}
	changed, err := h.ToggleChosen(ctx, handID, m.CardGapCount())
	if err != nil || !changed {
		return err
	}
	return m.CheckChoosingDone(ctx)
}

// CheckChoosingDone cuts the CHOOSING timer short once every player has
// submitted a complete set. The phase still changes through UpdateState.
func (m *Match) CheckChoosingDone(ctx context.Context) error {
	if m.m.Phase != engine.PhaseChoosing {
		return nil
	}
	gaps := m.CardGapCount()
	for _, p := range m.Players() {
		if p.p.Picking {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if h.ChosenCount() != gaps {
			return nil
		}
	}
	if m.remaining() <= engine.ChoosingFinishThreshold {
		return nil
	}
	m.setTimer(engine.ChoosingFinishThreshold)
	return m.save(ctx)
}

// PickWinner awards the round to the player whose played set has the given
// id. Only the picker may pick, and only during PICKING; anything else is
// ignored like a stale click.
func (m *Match) PickWinner(ctx context.Context, picker *Participant, setID int) error {
	if err := m.guard(); err != nil {
		return err
	}
	if !m.AllowPick(picker) {
		return nil
	}

	gaps := m.CardGapCount()
	var winner *Participant
	for _, p := range m.Players() {
		if p.p.Picking || p.p.OrderKey == nil || *p.p.OrderKey != setID {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if h.ChosenCount() >= gaps {
			winner = p
		}
	}
	if winner == nil {
		return nil
	}

	if err := picker.ResetAFK(ctx); err != nil {
		return err
	}
	if err := winner.AddScore(ctx); err != nil {
		return err
	}
	if err := m.notice(ctx, engine.Event{Type: engine.EvtRoundWon, Name: winner.Name()}); err != nil {
		return err
	}
	for _, p := range m.Players() {
		if p == winner {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		if err := h.DeleteChosen(ctx); err != nil {
			return err
		}
	}

	if winner.Score() >= engine.WinScore {
		if err := m.notice(ctx, engine.Event{Type: engine.EvtGameOver}); err != nil {
			return err
		}
		if err := m.notice(ctx, engine.Event{Type: engine.EvtGameWon, Name: winner.Name()}); err != nil {
			return err
		}
		return m.setPhase(ctx, engine.PhaseEnding)
	}
	return m.setPhase(ctx, engine.PhaseCooldown)
}

func (m *Match) AllowChoose(p *Participant) bool {
	return m.m.Phase == engine.PhaseChoosing && !p.p.Picking && !p.p.Spectator
}

func (m *Match) AllowPick(p *Participant) bool {
	return m.m.Phase == engine.PhasePicking && p.p.Picking && !p.p.Spectator
}
