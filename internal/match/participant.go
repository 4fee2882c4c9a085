package match

import (
	"context"
	"time"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

type Participant struct {
	match *Match
	p     *domain.Participant
	hand  *Hand
	gone  bool
}

func (p *Participant) ID() uint             { return p.p.ID }
func (p *Participant) PlayerID() string     { return p.p.PlayerID }
func (p *Participant) Name() string         { return p.p.Name }
func (p *Participant) Score() int           { return p.p.Score }
func (p *Participant) Picking() bool        { return p.p.Picking }
func (p *Participant) Spectator() bool      { return p.p.Spectator }
func (p *Participant) AFKRounds() int       { return p.p.AFKRounds }
func (p *Participant) Match() *Match        { return p.match }
func (p *Participant) TimeoutAt() time.Time { return p.p.TimeoutAt }

// Gone reports whether the participant was removed during this unit of
// work.
func (p *Participant) Gone() bool { return p.gone }

// OrderKey is the shuffled display position of the player's played set,
// zero before the first round.
func (p *Participant) OrderKey() int {
	if p.p.OrderKey == nil {
		return 0
	}
	return *p.p.OrderKey
}

func (p *Participant) save(ctx context.Context) error {
	return storeErr(p.match.reg.tx.UpdateParticipant(ctx, p.p))
}

// Heartbeat keeps the participant alive for another d.
func (p *Participant) Heartbeat(ctx context.Context, d time.Duration) error {
	p.p.TimeoutAt = p.match.now().Add(d)
	return p.save(ctx)
}

// Leave removes the participant from its match.
func (p *Participant) Leave(ctx context.Context) error {
	return p.match.RemoveParticipant(ctx, p, engine.EvtLeft)
}

func (p *Participant) SetPicking(ctx context.Context, picking bool) error {
	if p.p.Picking == picking {
		return nil
	}
	p.p.Picking = picking
	return p.save(ctx)
}

func (p *Participant) AssignOrder(ctx context.Context, key int) error {
	p.p.OrderKey = &key
	return p.save(ctx)
}

func (p *Participant) AddScore(ctx context.Context) error {
	p.p.Score++
	return p.save(ctx)
}

func (p *Participant) MarkAFK(ctx context.Context) error {
	p.p.AFKRounds++
	return p.save(ctx)
}

func (p *Participant) ResetAFK(ctx context.Context) error {
	if p.p.AFKRounds == 0 {
		return nil
	}
	p.p.AFKRounds = 0
	return p.save(ctx)
}

// Hand loads the participant's hand on first use.
func (p *Participant) Hand(ctx context.Context) (*Hand, error) {
	if p.hand == nil {
		p.hand = &Hand{part: p}
	}
	if err := p.hand.load(ctx); err != nil {
		return nil, err
	}
	return p.hand, nil
}
