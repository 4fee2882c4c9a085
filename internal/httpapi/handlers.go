package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/match"
	"github.com/DoyleJ11/cards-party-backend/internal/service"
	"github.com/DoyleJ11/cards-party-backend/internal/session"
	"github.com/DoyleJ11/cards-party-backend/pkg/types"
)

// GameService is the part of the service layer the HTTP surface drives.
type GameService interface {
	CreateMatch(ctx context.Context, u match.User, deck io.Reader) (uint, error)
	JoinMatch(ctx context.Context, u match.User, matchID uint) error
	Spectate(ctx context.Context, u match.User, matchID uint) error
	Abandon(ctx context.Context, u match.User) error
	Status(ctx context.Context, u match.User) (types.Status, error)
	Participants(ctx context.Context, u match.User) ([]types.ParticipantView, error)
	Cards(ctx context.Context, u match.User) (types.CardsView, error)
	Choose(ctx context.Context, u match.User, handID uint) error
	Pick(ctx context.Context, u match.User, playedSetID int) error
	Chat(ctx context.Context, u match.User, offset uint) (types.ChatView, error)
	SendChat(ctx context.Context, u match.User, text string) error
	Skip(ctx context.Context, u match.User) error
	ListMatches(ctx context.Context) ([]types.MatchSummary, error)
}

const qrSize = 320

type API struct {
	Svc      GameService
	Sessions *session.Manager
	Log      *zap.Logger

	// DashboardPath is where denied requests are sent back to.
	DashboardPath string
	// PublicURL overrides the scheme and host of generated join links.
	PublicURL    string
	MaxDeckBytes int64
}

func user(r *http.Request) match.User {
	p, _ := session.FromContext(r.Context())
	return match.User{PlayerID: p.ID, Name: p.Name}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps service errors onto responses. Denied requests go back to the
// dashboard; stale ids are ignored.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		http.Redirect(w, r, a.DashboardPath, http.StatusSeeOther)
	case errors.Is(err, engine.ErrValidation):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: validationMessage(err)})
	case errors.Is(err, service.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: "slow down"})
	case errors.Is(err, engine.ErrNotFound):
		w.WriteHeader(http.StatusNoContent)
	default:
		a.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("player_id", user(r).PlayerID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "internal error"})
	}
}

// validationMessage strips the sentinel suffix from a wrapped validation
// error.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "+engine.ErrValidation.Error()); i > 0 {
		return msg[:i]
	}
	return msg
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, engine.ErrValidation)
	}
	return nil
}

func matchID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad match id: %w", engine.ErrValidation)
	}
	return uint(id), nil
}

// joinURL derives the public link of a match, honouring a proxy's
// forwarded scheme.
func (a *API) joinURL(r *http.Request, id uint) string {
	base := strings.TrimSuffix(a.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/api/matches/%d/join", base, id)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) ListMatches(w http.ResponseWriter, r *http.Request) {
	list, err := a.Svc.ListMatches(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) CreateMatch(w http.ResponseWriter, r *http.Request) {
	// room for the multipart envelope around the deck
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxDeckBytes+1<<16)
	file, _, err := r.FormFile("deck")
	if err != nil {
		a.fail(w, r, fmt.Errorf("deck upload: %v: %w", err, engine.ErrValidation))
		return
	}
	defer file.Close()

	id, err := a.Svc.CreateMatch(r.Context(), user(r), file)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.MatchCreated{MatchID: id, JoinURL: a.joinURL(r, id)})
}

func (a *API) JoinMatch(w http.ResponseWriter, r *http.Request) {
	a.enter(w, r, a.Svc.JoinMatch)
}

func (a *API) Spectate(w http.ResponseWriter, r *http.Request) {
	a.enter(w, r, a.Svc.Spectate)
}

func (a *API) enter(w http.ResponseWriter, r *http.Request, fn func(context.Context, match.User, uint) error) {
	id, err := matchID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := fn(r.Context(), user(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) MatchQR(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	png, err := qrcode.Encode(a.joinURL(r, id), qrcode.Medium, qrSize)
	if err != nil {
		a.fail(w, r, fmt.Errorf("qr generation: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (a *API) Rename(w http.ResponseWriter, r *http.Request) {
	var req types.RenameRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	name, err := session.ValidateName(req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, _ := session.FromContext(r.Context())
	p.Name = name
	if err := a.Sessions.SetCookie(w, p); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Player{ID: p.ID, Name: p.Name})
}

func (a *API) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := a.Svc.Abandon(r.Context(), user(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, a.DashboardPath, http.StatusSeeOther)
}

func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	st, err := a.Svc.Status(r.Context(), user(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) Participants(w http.ResponseWriter, r *http.Request) {
	parts, err := a.Svc.Participants(r.Context(), user(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

func (a *API) Cards(w http.ResponseWriter, r *http.Request) {
	cards, err := a.Svc.Cards(r.Context(), user(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) Choose(w http.ResponseWriter, r *http.Request) {
	var req types.ChooseRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Svc.Choose(r.Context(), user(r), req.HandID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Pick(w http.ResponseWriter, r *http.Request) {
	var req types.PickRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Svc.Pick(r.Context(), user(r), req.PlayedSetID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	var offset uint64
	if s := r.URL.Query().Get("offset"); s != "" {
		var err error
		if offset, err = strconv.ParseUint(s, 10, 64); err != nil {
			a.fail(w, r, fmt.Errorf("bad offset: %w", engine.ErrValidation))
			return
		}
	}
	view, err := a.Svc.Chat(r.Context(), user(r), uint(offset))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) SendChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Svc.SendChat(r.Context(), user(r), req.Message); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Skip(w http.ResponseWriter, r *http.Request) {
	if err := a.Svc.Skip(r.Context(), user(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
