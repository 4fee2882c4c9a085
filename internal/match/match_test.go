package match

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
	"github.com/DoyleJ11/cards-party-backend/internal/store/memstore"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	t     *testing.T
	store *memstore.Store
	clock *fakeClock
	rng   *rand.Rand
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:     t,
		store: memstore.NewSeeded(42),
		clock: &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		rng:   rand.New(rand.NewPCG(1, 2)),
	}
}

func (h *harness) tx(fn func(r *Registry) error) error {
	return h.store.WithinTx(context.Background(), func(tx store.Tx) error {
		return fn(NewRegistry(tx, WithClock(h.clock.Now), WithRand(h.rng)))
	})
}

func (h *harness) must(fn func(r *Registry) error) {
	h.t.Helper()
	require.NoError(h.t, h.tx(fn))
}

// request mirrors what every match-scoped request does before its action.
func (h *harness) request(playerID string, fn func(m *Match, p *Participant) error) {
	h.t.Helper()
	h.must(func(r *Registry) error {
		p, err := r.ParticipantByPlayer(context.Background(), playerID)
		if err != nil {
			return err
		}
		m := p.Match()
		if err := m.RefreshTimerIfNecessary(context.Background()); err != nil {
			return err
		}
		if err := m.UpdateState(context.Background()); err != nil {
			return err
		}
		if fn == nil || m.Deleted() {
			return nil
		}
		return fn(m, p)
	})
}

func deck(prompts, objects, actions int, prompt string) string {
	var b strings.Builder
	for i := 0; i < prompts; i++ {
		fmt.Fprintf(&b, "%s #%d\tSTATEMENT\n", prompt, i)
	}
	for i := 0; i < objects; i++ {
		fmt.Fprintf(&b, "object %d\tOBJECT\n", i)
	}
	for i := 0; i < actions; i++ {
		fmt.Fprintf(&b, "action %d\tVERB\n", i)
	}
	return b.String()
}

func (h *harness) createMatch(d string, players ...string) uint {
	h.t.Helper()
	var id uint
	h.must(func(r *Registry) error {
		m, err := r.CreateMatch(context.Background(), strings.NewReader(d))
		if err != nil {
			return err
		}
		id = m.ID()
		for _, name := range players {
			if _, err := m.AddUser(context.Background(), User{PlayerID: name, Name: name}, time.Hour); err != nil {
				return err
			}
		}
		return nil
	})
	return id
}

// startedMatch returns a match in its first CHOOSING phase.
func (h *harness) startedMatch(players ...string) uint {
	h.t.Helper()
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), players...)
	h.clock.Advance(engine.TimerPending + time.Second)
	h.request(players[0], nil)
	return id
}

func (h *harness) phase(playerID string) engine.Phase {
	h.t.Helper()
	var ph engine.Phase
	h.must(func(r *Registry) error {
		p, err := r.ParticipantByPlayer(context.Background(), playerID)
		if err != nil {
			return err
		}
		ph = p.Match().Phase()
		return nil
	})
	return ph
}

func (h *harness) chat(matchID uint) []string {
	h.t.Helper()
	var out []string
	h.must(func(r *Registry) error {
		msgs, err := r.tx.ChatSince(context.Background(), matchID, 0, 0)
		for _, m := range msgs {
			out = append(out, m.Text)
		}
		return err
	})
	return out
}

// chooseAll makes every non-picker submit as many cards as the prompt has gaps.
func chooseAll(ctx context.Context, m *Match) error {
	for _, p := range m.Players() {
		if p.Picking() {
			continue
		}
		hand, err := p.Hand(ctx)
		if err != nil {
			return err
		}
		for _, hc := range hand.Cards()[:m.CardGapCount()] {
			if err := m.ToggleChosen(ctx, p, hc.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

var four = []string{"ann", "bob", "cat", "dan"}

func TestStartFirstRound(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("ann", func(m *Match, _ *Participant) error {
		ctx := context.Background()
		assert.Equal(t, engine.PhaseChoosing, m.Phase())
		require.NotNil(t, m.Card())
		assert.Equal(t, engine.CardPrompt, m.Card().Type)
		assert.Equal(t, 2, m.CardGapCount())
		assert.Equal(t, "ann", m.Picker().Name())

		var keys []int
		for _, p := range m.Players() {
			hand, err := p.Hand(ctx)
			require.NoError(t, err)
			assert.Len(t, hand.Cards(), 2*engine.HandCardsByType, p.Name())
			assert.Len(t, hand.ByType(engine.CardObject), engine.HandCardsByType)
			assert.Len(t, hand.ByType(engine.CardAction), engine.HandCardsByType)
			keys = append(keys, p.OrderKey())
		}
		slices.Sort(keys)
		assert.Equal(t, []int{1, 2, 3, 4}, keys)
		return nil
	})
}

func TestToggleChosenCascades(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("bob", func(m *Match, p *Participant) error {
		ctx := context.Background()
		hand, err := p.Hand(ctx)
		require.NoError(t, err)
		cards := hand.Cards()
		first, second, third := cards[0], cards[3], cards[7]

		require.NoError(t, m.ToggleChosen(ctx, p, first.ID))
		require.NoError(t, m.ToggleChosen(ctx, p, second.ID))

		chosen := hand.Chosen()
		require.Len(t, chosen, 2)
		assert.Equal(t, first.ID, chosen[0].ID)
		assert.Equal(t, second.ID, chosen[1].ID)
		data := hand.ChoiceData(false)
		assert.Equal(t, first.Card.Text, data[0].Text)
		assert.Equal(t, second.Card.Text, data[1].Text)

		// A third card exceeds the gap count.
		require.NoError(t, m.ToggleChosen(ctx, p, third.ID))
		assert.Equal(t, 2, hand.ChosenCount())

		require.NoError(t, m.ToggleChosen(ctx, p, first.ID))
		assert.Equal(t, 0, hand.ChosenCount())

		// Unknown ids are ignored.
		require.NoError(t, m.ToggleChosen(ctx, p, 999999))
		return nil
	})

	// The slots were persisted and survive into the next request.
	h.request("bob", func(m *Match, p *Participant) error {
		hand, err := p.Hand(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, hand.ChosenCount())
		return nil
	})
}

func TestPickerCannotChoose(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("ann", func(m *Match, p *Participant) error {
		ctx := context.Background()
		require.True(t, p.Picking())
		hand, err := p.Hand(ctx)
		require.NoError(t, err)
		require.NoError(t, m.ToggleChosen(ctx, p, hand.Cards()[0].ID))
		assert.Equal(t, 0, hand.ChosenCount())
		return nil
	})
}

func TestEarlyFinishCutsTimer(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("bob", func(m *Match, _ *Participant) error {
		require.NoError(t, chooseAll(context.Background(), m))
		assert.Equal(t, engine.PhaseChoosing, m.Phase())
		assert.Equal(t, int(engine.ChoosingFinishThreshold/time.Second), m.SecondsToNextPhase())
		return nil
	})
}

func TestMinimumPlayersEndsMatch(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	h.request("dan", func(_ *Match, p *Participant) error {
		return p.Leave(context.Background())
	})
	h.request("ann", func(m *Match, _ *Participant) error {
		assert.Equal(t, engine.PhaseEnding, m.Phase())
		return nil
	})
	assert.Contains(t, h.chat(id), "dan left.")
	assert.Contains(t, h.chat(id), "Match is ending.")
}

func TestUpdateStateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), four...)
	h.clock.Advance(engine.TimerPending + time.Second)

	h.request("ann", nil)
	var picker string
	h.request("bob", func(m *Match, _ *Participant) error {
		ctx := context.Background()
		require.NoError(t, m.UpdateState(ctx))
		require.NoError(t, m.UpdateState(ctx))
		assert.Equal(t, engine.PhaseChoosing, m.Phase())
		picker = m.Picker().Name()
		return nil
	})
	assert.Equal(t, "ann", picker)
	assert.Equal(t, engine.PhaseChoosing, h.phase("cat"))

	var starts int
	for _, msg := range h.chat(id) {
		if strings.HasPrefix(msg, "There are not enough players") {
			starts++
		}
	}
	assert.Zero(t, starts)
}

func TestHousekeepingTimesOutParticipants(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), "ann")
	h.must(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), id)
		if err != nil {
			return err
		}
		_, err = m.AddUser(context.Background(), User{PlayerID: "bob", Name: "bob"}, engine.Heartbeat)
		return err
	})

	h.clock.Advance(engine.Heartbeat + time.Second)
	h.must(func(r *Registry) error { return r.Housekeeping(context.Background()) })

	assert.Contains(t, h.chat(id), "bob timed out.")
	h.must(func(r *Registry) error {
		_, err := r.ParticipantByPlayer(context.Background(), "bob")
		assert.ErrorIs(t, err, engine.ErrNotFound)
		p, err := r.ParticipantByPlayer(context.Background(), "ann")
		require.NoError(t, err)
		assert.Len(t, p.Match().Participants(), 1)
		return nil
	})
}

func TestHousekeepingDeletesEmptyMatches(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."))

	h.must(func(r *Registry) error { return r.Housekeeping(context.Background()) })
	h.must(func(r *Registry) error {
		_, err := r.MatchByID(context.Background(), id)
		assert.ErrorIs(t, err, engine.ErrNotFound)
		return nil
	})
}

func TestRoundRobinPicker(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	var pickers []string
	for round := 0; round < 2*len(four); round++ {
		h.request("ann", func(m *Match, _ *Participant) error {
			require.Equal(t, engine.PhaseChoosing, m.Phase(), "round %d", round)
			pickers = append(pickers, m.Picker().Name())
			return chooseAll(context.Background(), m)
		})
		h.clock.Advance(engine.TimerChoosing + time.Second)
		h.request("ann", nil) // PICKING
		h.clock.Advance(engine.TimerPicking + time.Second)
		h.request("ann", nil) // no winner, COOLDOWN
		h.clock.Advance(engine.TimerCooldown + time.Second)
		h.request("ann", nil) // next CHOOSING
	}

	assert.Equal(t, []string{"ann", "bob", "cat", "dan", "ann", "bob", "cat", "dan"}, pickers)
}

func TestDeckImportFloor(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch("just garbage\nmore\tNOPE\n")

	h.must(func(r *Registry) error {
		for _, ct := range engine.CardTypes {
			cards, err := r.tx.RandomCards(context.Background(), id, ct, 100, nil)
			require.NoError(t, err)
			assert.Len(t, cards, engine.MinimumCards, string(ct))
		}
		return nil
	})

	var notices int
	for _, msg := range h.chat(id) {
		if strings.HasPrefix(msg, "Your deck is insufficient.") {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
}

func TestPickWinner(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	h.request("ann", func(m *Match, _ *Participant) error {
		return chooseAll(context.Background(), m)
	})
	h.clock.Advance(engine.TimerChoosing + time.Second)

	var winner string
	h.request("ann", func(m *Match, p *Participant) error {
		ctx := context.Background()
		require.Equal(t, engine.PhasePicking, m.Phase())

		sets, err := m.PlayedSets(ctx, p)
		require.NoError(t, err)
		require.Len(t, sets, 3)
		for _, s := range sets {
			require.Len(t, s.Cards, 2)
			assert.False(t, s.Cards[0].Redacted)
		}
		for _, q := range m.Players() {
			if q.OrderKey() == sets[0].ID {
				winner = q.Name()
			}
		}
		return m.PickWinner(ctx, p, sets[0].ID)
	})

	h.request("ann", func(m *Match, p *Participant) error {
		ctx := context.Background()
		assert.Equal(t, engine.PhaseCooldown, m.Phase())
		for _, q := range m.Players() {
			if q.Name() == winner {
				assert.Equal(t, 1, q.Score())
			} else {
				assert.Equal(t, 0, q.Score())
			}
		}
		sets, err := m.PlayedSets(ctx, p)
		require.NoError(t, err)
		assert.Len(t, sets, 1, "only the winning set stays on the table")
		return nil
	})
	assert.Contains(t, h.chat(id), winner+" won the round!")
}

func TestPickWinnerIgnoredForNonPicker(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("ann", func(m *Match, _ *Participant) error {
		return chooseAll(context.Background(), m)
	})
	h.clock.Advance(engine.TimerChoosing + time.Second)

	h.request("bob", func(m *Match, p *Participant) error {
		require.NoError(t, m.PickWinner(context.Background(), p, 1))
		assert.Equal(t, engine.PhasePicking, m.Phase())
		return nil
	})
}

func TestWinningScoreEndsGame(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	h.must(func(r *Registry) error {
		p, err := r.ParticipantByPlayer(context.Background(), "bob")
		require.NoError(t, err)
		p.p.Score = engine.WinScore - 1
		return r.tx.UpdateParticipant(context.Background(), p.p)
	})
	h.request("ann", func(m *Match, _ *Participant) error {
		return chooseAll(context.Background(), m)
	})
	h.clock.Advance(engine.TimerChoosing + time.Second)

	h.request("ann", func(m *Match, p *Participant) error {
		bob, err := m.reg.ParticipantByPlayer(context.Background(), "bob")
		require.NoError(t, err)
		require.NoError(t, m.PickWinner(context.Background(), p, bob.OrderKey()))
		assert.Equal(t, engine.PhaseEnding, m.Phase())
		return nil
	})

	msgs := h.chat(id)
	assert.Contains(t, msgs, "Game over!")
	assert.Contains(t, msgs, "bob won the game!")

	h.clock.Advance(engine.TimerEnding + time.Second)
	h.request("ann", nil)
	h.must(func(r *Registry) error {
		_, err := r.MatchByID(context.Background(), id)
		assert.ErrorIs(t, err, engine.ErrNotFound)
		_, err = r.ParticipantByPlayer(context.Background(), "ann")
		assert.ErrorIs(t, err, engine.ErrNotFound)
		return nil
	})
}

func TestTooFewChoicesSkipsPicking(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	h.request("bob", func(m *Match, p *Participant) error {
		ctx := context.Background()
		hand, err := p.Hand(ctx)
		require.NoError(t, err)
		// One card on a two gap prompt is an incomplete submission.
		return m.ToggleChosen(ctx, p, hand.Cards()[0].ID)
	})
	h.clock.Advance(engine.TimerChoosing + time.Second)

	h.request("ann", func(m *Match, _ *Participant) error {
		assert.Equal(t, engine.PhaseCooldown, m.Phase())
		for _, p := range m.Players() {
			if p.Name() == "ann" {
				continue
			}
			assert.Equal(t, 1, p.AFKRounds(), p.Name())
		}
		return nil
	})
	msgs := h.chat(id)
	assert.Contains(t, msgs, "bob failed to choose cards!")
	assert.Contains(t, msgs, "Too few valid choices!")
}

func TestAFKPlayersAreKicked(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch("ann", "bob", "cat", "dan", "eve")

	for round := 0; round < 2; round++ {
		h.request("ann", func(m *Match, _ *Participant) error {
			ctx := context.Background()
			for _, p := range m.Players() {
				if p.Picking() || p.Name() == "eve" {
					continue
				}
				hand, err := p.Hand(ctx)
				require.NoError(t, err)
				for _, hc := range hand.Cards()[:m.CardGapCount()] {
					require.NoError(t, m.ToggleChosen(ctx, p, hc.ID))
				}
			}
			return nil
		})
		h.clock.Advance(engine.TimerChoosing + time.Second)
		h.request("ann", nil)
		h.clock.Advance(engine.TimerPicking + time.Second)
		h.request("ann", nil)
		h.clock.Advance(engine.TimerCooldown + time.Second)
		h.request("ann", nil)
	}

	assert.Contains(t, h.chat(id), "eve was kicked for being AFK for two rounds.")
}

func TestPickerLeavingAbortsRound(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch("ann", "bob", "cat", "dan", "eve")

	h.request("bob", func(m *Match, _ *Participant) error {
		return chooseAll(context.Background(), m)
	})
	h.request("ann", func(_ *Match, p *Participant) error {
		require.True(t, p.Picking())
		return p.Leave(context.Background())
	})
	h.request("bob", func(m *Match, p *Participant) error {
		assert.Equal(t, engine.PhaseCooldown, m.Phase())
		hand, err := p.Hand(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, hand.ChosenCount(), "aborted round returns the cards")
		return nil
	})
	assert.Contains(t, h.chat(id), "The picker left!")

	h.clock.Advance(engine.TimerCooldown + time.Second)
	h.request("bob", func(m *Match, _ *Participant) error {
		assert.Equal(t, engine.PhaseChoosing, m.Phase())
		assert.Equal(t, "bob", m.Picker().Name())
		return nil
	})
}

func TestJoinAfterStartIsDenied(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	err := h.tx(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), id)
		if err != nil {
			return err
		}
		_, err = m.AddUser(context.Background(), User{PlayerID: "eve", Name: "eve"}, time.Hour)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)

	h.must(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), id)
		if err != nil {
			return err
		}
		p, err := m.AddSpectator(context.Background(), User{PlayerID: "eve", Name: "eve"}, time.Hour)
		require.NoError(t, err)
		assert.True(t, p.Spectator())
		assert.False(t, m.Status(p).AllowChoose)
		return nil
	})
}

func TestPlayerCannotJoinTwice(t *testing.T) {
	h := newHarness(t)
	h.createMatch(deck(12, 30, 30, "_ meets _."), "ann")
	other := h.createMatch(deck(12, 30, 30, "_ meets _."), "bob")

	err := h.tx(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), other)
		if err != nil {
			return err
		}
		_, err = m.AddUser(context.Background(), User{PlayerID: "ann", Name: "ann"}, time.Hour)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)
}

func TestPendingTimerRestartsWithoutPlayers(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), "ann", "bob")

	h.clock.Advance(engine.TimerPending - engine.PendingRefreshThreshold + time.Second)
	h.request("ann", func(m *Match, _ *Participant) error {
		assert.Equal(t, engine.PhasePending, m.Phase())
		assert.Equal(t, int(engine.TimerPending/time.Second), m.SecondsToNextPhase())
		return nil
	})
	assert.Contains(t, h.chat(id), "There are not enough players, the timer has been restarted!")
}

func TestJoinExtendsPendingTimer(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), "ann")
	h.clock.Advance(45 * time.Second)

	h.must(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), id)
		if err != nil {
			return err
		}
		_, err = m.AddUser(context.Background(), User{PlayerID: "bob", Name: "bob"}, time.Hour)
		assert.Equal(t, int(engine.JoinBonusThreshold/time.Second), m.SecondsToNextPhase())
		return err
	})
	assert.Contains(t, h.chat(id), "bob joined.")
}

func TestPlayedSetsRedactedWhileChoosing(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)

	h.request("bob", func(m *Match, p *Participant) error {
		ctx := context.Background()
		require.NoError(t, chooseAll(ctx, m))
		sets, err := m.PlayedSets(ctx, p)
		require.NoError(t, err)
		require.Len(t, sets, 3)
		for _, s := range sets {
			for _, c := range s.Cards {
				assert.Equal(t, !s.Own, c.Redacted)
			}
		}
		return nil
	})
}

func TestSkipIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	id := h.startedMatch(four...)

	err := h.tx(func(r *Registry) error {
		p, err := r.ParticipantByPlayer(context.Background(), "bob")
		if err != nil {
			return err
		}
		return p.Match().Skip(context.Background(), p)
	})
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)

	h.request("ann", func(m *Match, p *Participant) error {
		ctx := context.Background()
		require.NoError(t, chooseAll(ctx, m))
		require.NoError(t, m.Skip(ctx, p))
		require.NoError(t, m.UpdateState(ctx))
		assert.Equal(t, engine.PhasePicking, m.Phase())
		return nil
	})
	assert.Contains(t, h.chat(id), "ann skipped to the next phase.")
}

func TestFailedUnitOfWorkLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	id := h.createMatch(deck(12, 30, 30, "_ meets _."), "ann")

	err := h.tx(func(r *Registry) error {
		m, err := r.MatchByID(context.Background(), id)
		if err != nil {
			return err
		}
		if _, err := m.AddUser(context.Background(), User{PlayerID: "bob", Name: "bob"}, time.Hour); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	assert.NotContains(t, h.chat(id), "bob joined.")
	h.must(func(r *Registry) error {
		_, err := r.ParticipantByPlayer(context.Background(), "bob")
		assert.ErrorIs(t, err, engine.ErrNotFound)
		return nil
	})
}

func TestSummaries(t *testing.T) {
	h := newHarness(t)
	h.startedMatch(four...)
	pending := h.createMatch(deck(12, 30, 30, "_ meets _."), "eve")

	h.must(func(r *Registry) error {
		sums, err := r.Summaries(context.Background())
		require.NoError(t, err)
		require.Len(t, sums, 2)
		assert.Equal(t, pending, sums[0].ID)
		assert.True(t, sums[0].Joinable)
		assert.Equal(t, "eve", sums[0].Owner)
		assert.Equal(t, 4, sums[1].Players)
		return nil
	})
}
