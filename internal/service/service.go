// Package service runs player actions as units of work against the match
// engine.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/match"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
	"github.com/DoyleJ11/cards-party-backend/pkg/types"
)

var ErrRateLimited = errors.New("rate limited")

// DefaultMaxDeckBytes bounds deck uploads, exclusive.
const DefaultMaxDeckBytes = 200_000

// ChatLimiter throttles chat messages per player.
type ChatLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Options struct {
	MaxDeckBytes int64
	AllowSkip    bool
	Now          func() time.Time
}

type Service struct {
	store   store.Store
	limiter ChatLimiter
	log     *zap.Logger
	opts    Options
}

func New(s store.Store, limiter ChatLimiter, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxDeckBytes <= 0 {
		opts.MaxDeckBytes = DefaultMaxDeckBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: s, limiter: limiter, log: log, opts: opts}
}

// run opens a unit of work and sweeps expired participants and empty
// matches before handing over.
func (s *Service) run(ctx context.Context, fn func(r *match.Registry) error) error {
	return s.store.WithinTx(ctx, func(tx store.Tx) error {
		r := match.NewRegistry(tx, match.WithClock(s.opts.Now), match.WithLogger(s.log))
		if err := r.Housekeeping(ctx); err != nil {
			return fmt.Errorf("housekeeping: %w", err)
		}
		return fn(r)
	})
}

// withParticipant resolves the caller's participant, brings its match up
// to date and renews the heartbeat before running fn. A caller without a
// match, or whose match ended during the update, is denied; the update
// itself is still committed.
func (s *Service) withParticipant(ctx context.Context, u match.User, fn func(m *match.Match, p *match.Participant) error) error {
	var denied error
	err := s.run(ctx, func(r *match.Registry) error {
		denied = nil
		p, err := r.ParticipantByPlayer(ctx, u.PlayerID)
		if errors.Is(err, engine.ErrNotFound) {
			denied = fmt.Errorf("player %s has no match: %w", u.PlayerID, engine.ErrPermissionDenied)
			return nil
		}
		if err != nil {
			return err
		}

		m := p.Match()
		if err := m.RefreshTimerIfNecessary(ctx); err != nil {
			return err
		}
		if err := m.UpdateState(ctx); err != nil {
			return err
		}
		if m.Deleted() || p.Gone() {
			denied = fmt.Errorf("match %d is over for %s: %w", m.ID(), u.PlayerID, engine.ErrPermissionDenied)
			return nil
		}
		if err := p.Heartbeat(ctx, engine.Heartbeat); err != nil {
			return err
		}
		return fn(m, p)
	})
	if err != nil {
		return err
	}
	return denied
}

func (s *Service) ensureNoMatch(ctx context.Context, r *match.Registry, u match.User) error {
	_, err := r.ParticipantByPlayer(ctx, u.PlayerID)
	switch {
	case err == nil:
		return fmt.Errorf("player %s already in a match: %w", u.PlayerID, engine.ErrPermissionDenied)
	case errors.Is(err, engine.ErrNotFound):
		return nil
	}
	return err
}

// CreateMatch creates a match from an uploaded deck and joins the caller.
// Oversized or non-text decks are rejected before anything is stored.
func (s *Service) CreateMatch(ctx context.Context, u match.User, deck io.Reader) (uint, error) {
	data, err := io.ReadAll(io.LimitReader(deck, s.opts.MaxDeckBytes))
	if err != nil {
		return 0, fmt.Errorf("read deck: %w", err)
	}
	if int64(len(data)) >= s.opts.MaxDeckBytes {
		return 0, fmt.Errorf("deck must be smaller than %d bytes: %w", s.opts.MaxDeckBytes, engine.ErrValidation)
	}
	// An empty deck is allowed, it is padded with placeholders.
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "text/") {
		return 0, fmt.Errorf("deck is %s, not text: %w", ct, engine.ErrValidation)
	}

	var id uint
	err = s.run(ctx, func(r *match.Registry) error {
		if err := s.ensureNoMatch(ctx, r, u); err != nil {
			return err
		}
		m, err := r.CreateMatch(ctx, bytes.NewReader(data))
		if err != nil {
			return err
		}
		if _, err := m.AddUser(ctx, u, engine.Heartbeat); err != nil {
			return err
		}
		id = m.ID()
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("match opened", zap.Uint("match_id", id), zap.String("player_id", u.PlayerID))
	return id, nil
}

// JoinMatch adds the caller as a player of a match that has not started.
func (s *Service) JoinMatch(ctx context.Context, u match.User, matchID uint) error {
	return s.enter(ctx, u, matchID, false)
}

// Spectate adds the caller as a spectator of any match that is not ending.
func (s *Service) Spectate(ctx context.Context, u match.User, matchID uint) error {
	return s.enter(ctx, u, matchID, true)
}

func (s *Service) enter(ctx context.Context, u match.User, matchID uint, spectate bool) error {
	return s.run(ctx, func(r *match.Registry) error {
		if err := s.ensureNoMatch(ctx, r, u); err != nil {
			return err
		}
		m, err := r.MatchByID(ctx, matchID)
		if errors.Is(err, engine.ErrNotFound) {
			return fmt.Errorf("match %d: %w", matchID, engine.ErrPermissionDenied)
		}
		if err != nil {
			return err
		}
		if err := m.RefreshTimerIfNecessary(ctx); err != nil {
			return err
		}
		if err := m.UpdateState(ctx); err != nil {
			return err
		}
		if spectate {
			_, err = m.AddSpectator(ctx, u, engine.Heartbeat)
		} else {
			_, err = m.AddUser(ctx, u, engine.Heartbeat)
		}
		return err
	})
}

// Abandon removes the caller from their match.
func (s *Service) Abandon(ctx context.Context, u match.User) error {
	return s.withParticipant(ctx, u, func(_ *match.Match, p *match.Participant) error {
		return p.Leave(ctx)
	})
}

func (s *Service) Status(ctx context.Context, u match.User) (types.Status, error) {
	var st types.Status
	err := s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		st = m.Status(p)
		return nil
	})
	return st, err
}

func (s *Service) Participants(ctx context.Context, u match.User) ([]types.ParticipantView, error) {
	var out []types.ParticipantView
	err := s.withParticipant(ctx, u, func(m *match.Match, _ *match.Participant) error {
		out = m.ParticipantViews()
		return nil
	})
	return out, err
}

func (s *Service) Cards(ctx context.Context, u match.User) (types.CardsView, error) {
	var v types.CardsView
	err := s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		var err error
		v, err = m.CardsView(ctx, p)
		return err
	})
	return v, err
}

// Choose toggles one of the caller's hand cards.
func (s *Service) Choose(ctx context.Context, u match.User, handID uint) error {
	return s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		return m.ToggleChosen(ctx, p, handID)
	})
}

// Pick declares the played set with the given id the round winner.
func (s *Service) Pick(ctx context.Context, u match.User, playedSetID int) error {
	return s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		return m.PickWinner(ctx, p, playedSetID)
	})
}

// Chat returns the messages posted after offset.
func (s *Service) Chat(ctx context.Context, u match.User, offset uint) (types.ChatView, error) {
	var v types.ChatView
	err := s.withParticipant(ctx, u, func(m *match.Match, _ *match.Participant) error {
		msgs, err := m.Chat().Since(ctx, offset)
		if err != nil {
			return err
		}
		v = match.ChatViews(msgs, offset)
		return nil
	})
	return v, err
}

// SendChat posts a user message. Messages are limited in length and rate.
func (s *Service) SendChat(ctx context.Context, u match.User, text string) error {
	clean, err := SanitizeChat(text)
	if err != nil {
		return err
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "chat:"+u.PlayerID)
		if err != nil {
			return fmt.Errorf("chat limiter: %w", err)
		}
		if !ok {
			return ErrRateLimited
		}
	}
	return s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		// chatting counts as being present
		if err := p.ResetAFK(ctx); err != nil {
			return err
		}
		return m.Chat().Post(ctx, domain.ChatUser, p.Name(), clean)
	})
}

// SanitizeChat enforces the message length, collapses whitespace and
// escapes HTML.
func SanitizeChat(text string) (string, error) {
	if utf8.RuneCountInString(text) > engine.MaxChatLen {
		return "", fmt.Errorf("message longer than %d characters: %w", engine.MaxChatLen, engine.ErrValidation)
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return "", fmt.Errorf("empty message: %w", engine.ErrValidation)
	}
	return html.EscapeString(collapsed), nil
}

// Skip expires the current phase timer when skipping is enabled.
func (s *Service) Skip(ctx context.Context, u match.User) error {
	if !s.opts.AllowSkip {
		return fmt.Errorf("skipping disabled: %w", engine.ErrPermissionDenied)
	}
	return s.withParticipant(ctx, u, func(m *match.Match, p *match.Participant) error {
		if err := m.Skip(ctx, p); err != nil {
			return err
		}
		return m.UpdateState(ctx)
	})
}

func (s *Service) ListMatches(ctx context.Context) ([]types.MatchSummary, error) {
	var out []types.MatchSummary
	err := s.run(ctx, func(r *match.Registry) error {
		var err error
		out, err = r.Summaries(ctx)
		return err
	})
	return out, err
}

// CurrentMatch returns the id of the caller's match, or false.
func (s *Service) CurrentMatch(ctx context.Context, u match.User) (uint, bool, error) {
	var id uint
	err := s.withParticipant(ctx, u, func(m *match.Match, _ *match.Participant) error {
		id = m.ID()
		return nil
	})
	if errors.Is(err, engine.ErrPermissionDenied) {
		return 0, false, nil
	}
	return id, err == nil, err
}
