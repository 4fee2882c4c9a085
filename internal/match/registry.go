// Package match runs the match lifecycle on top of a store.Tx.
//
// A Registry lives for one unit of work. It hands out at most one *Match
// per match id and one *Participant per player id, so every component of a
// request mutates the same in-memory copy of an entity.
package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
	"github.com/DoyleJ11/cards-party-backend/pkg/types"
)

// User identifies a player joining a match.
type User struct {
	PlayerID string
	Name     string
}

type Registry struct {
	tx  store.Tx
	now func() time.Time
	log *zap.Logger
	rng *rand.Rand

	matches map[uint]*Match
	players map[string]*Participant
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

func NewRegistry(tx store.Tx, opts ...Option) *Registry {
	r := &Registry{
		tx:      tx,
		now:     time.Now,
		log:     zap.NewNop(),
		matches: map[uint]*Match{},
		players: map[string]*Participant{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r
}

// storeErr maps store errors onto engine errors.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", engine.ErrNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", engine.ErrPermissionDenied, err)
	}
	return err
}

// MatchByID loads and locks a match together with its roster.
func (r *Registry) MatchByID(ctx context.Context, id uint) (*Match, error) {
	if m, ok := r.matches[id]; ok {
		if m.deleted {
			return nil, fmt.Errorf("match %d: %w", id, engine.ErrNotFound)
		}
		return m, nil
	}

	dm, err := r.tx.GetMatch(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	m := &Match{reg: r, m: dm}
	m.chat = &Chat{tx: r.tx, matchID: dm.ID, now: r.now}

	parts, err := r.tx.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		p := r.players[parts[i].PlayerID]
		if p == nil || p.p.ID != parts[i].ID {
			p = &Participant{match: m, p: &parts[i]}
			r.players[parts[i].PlayerID] = p
		}
		m.roster = append(m.roster, p)
	}

	if dm.CurrentCardID != nil {
		card, err := r.tx.GetCard(ctx, *dm.CurrentCardID)
		if err != nil {
			return nil, storeErr(err)
		}
		m.card = card
	}

	r.matches[id] = m
	return m, nil
}

// ParticipantByPlayer resolves the active participant of a player and
// locks its match.
func (r *Registry) ParticipantByPlayer(ctx context.Context, playerID string) (*Participant, error) {
	if p, ok := r.players[playerID]; ok {
		if p.gone {
			return nil, fmt.Errorf("player %s: %w", playerID, engine.ErrNotFound)
		}
		return p, nil
	}

	dp, err := r.tx.ParticipantByPlayer(ctx, playerID)
	if err != nil {
		return nil, storeErr(err)
	}
	m, err := r.MatchByID(ctx, dp.MatchID)
	if err != nil {
		return nil, err
	}
	for _, p := range m.roster {
		if p.p.PlayerID == playerID {
			return p, nil
		}
	}
	// Removed between the lookup and taking the match lock.
	return nil, fmt.Errorf("player %s: %w", playerID, engine.ErrNotFound)
}

// CreateMatch creates a PENDING match and imports its deck. A deck that
// cannot be read aborts the creation.
func (r *Registry) CreateMatch(ctx context.Context, deck io.Reader) (*Match, error) {
	d, err := engine.ParseDeck(deck)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrValidation, err)
	}

	now := r.now()
	dm := &domain.Match{
		Phase:          engine.PhasePending,
		TimerExpiresAt: now.Add(engine.TimerPending),
		CreatedAt:      now,
	}
	if err := r.tx.CreateMatch(ctx, dm); err != nil {
		return nil, err
	}
	m := &Match{reg: r, m: dm}
	m.chat = &Chat{tx: r.tx, matchID: dm.ID, now: r.now}
	r.matches[dm.ID] = m

	if err := m.notice(ctx, engine.Event{Type: engine.EvtMatchCreated}); err != nil {
		return nil, err
	}
	if err := m.CreateDeck(ctx, d); err != nil {
		return nil, err
	}
	r.log.Info("match created",
		zap.Uint("match_id", dm.ID),
		zap.Int("cards", len(d.Cards)),
		zap.Int("skipped_rows", d.Skipped))
	return m, nil
}

// Housekeeping removes participants whose heartbeat expired, then deletes
// matches nobody is left in.
func (r *Registry) Housekeeping(ctx context.Context) error {
	now := r.now()
	expired, err := r.tx.ExpiredParticipants(ctx, now)
	if err != nil {
		return err
	}
	for _, dp := range expired {
		m, err := r.MatchByID(ctx, dp.MatchID)
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		p := m.participant(dp.ID)
		// Re-check under the match lock, a heartbeat may have landed.
		if p == nil || !p.p.TimeoutAt.Before(now) {
			continue
		}
		if err := m.RemoveParticipant(ctx, p, engine.EvtTimedOut); err != nil {
			return err
		}
	}

	empty, err := r.tx.EmptyMatchIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range empty {
		m, err := r.MatchByID(ctx, id)
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if len(m.roster) == 0 {
			if err := m.Delete(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Summaries lists every match without locking them. Pending matches come
// first, then the rest by remaining time.
func (r *Registry) Summaries(ctx context.Context) ([]types.MatchSummary, error) {
	ms, err := r.tx.ListMatches(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := make([]types.MatchSummary, 0, len(ms))
	for _, dm := range ms {
		parts, err := r.tx.Participants(ctx, dm.ID)
		if err != nil {
			return nil, err
		}
		s := types.MatchSummary{
			ID:       dm.ID,
			Phase:    string(dm.Phase),
			Timer:    remaining(dm.TimerExpiresAt, now),
			Joinable: dm.Phase == engine.PhasePending,
		}
		for _, p := range parts {
			if p.Spectator {
				continue
			}
			if s.Players == 0 {
				s.Owner = p.Name
			}
			s.Players++
		}
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}

func remaining(deadline, now time.Time) int {
	return max(0, int(deadline.Sub(now)/time.Second))
}
