// Package session identifies players with a signed cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

const (
	CookieName = "kgf_session"
	DefaultTTL = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid session token")

// Player is the identity carried by the session cookie.
type Player struct {
	ID   string
	Name string
}

type ctxKey struct{}

func WithPlayer(ctx context.Context, p Player) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Player, bool) {
	p, ok := ctx.Value(ctxKey{}).(Player)
	return p, ok
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithSecureCookie marks the cookie Secure, for deployments behind TLS.
func WithSecureCookie(secure bool) Option { return func(m *Manager) { m.secure = secure } }

func WithLogger(log *zap.Logger) Option { return func(m *Manager) { m.log = log } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(secret string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("session secret cannot be empty")
	}
	m := &Manager{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// NewPlayer returns a fresh identity with a generated nickname.
func NewPlayer() Player {
	return Player{
		ID:   uuid.NewString(),
		Name: fmt.Sprintf("Meme%d", 10000+rand.IntN(90000)),
	}
}

// Issue signs a token for p.
func (m *Manager) Issue(p Player) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"player_id": p.ID,
		"name":      p.Name,
		"iat":       now.Unix(),
		"exp":       now.Add(m.ttl).Unix(),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its player.
func (m *Manager) Parse(tokenStr string) (Player, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return Player{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Player{}, ErrInvalidToken
	}

	id, _ := claims["player_id"].(string)
	name, _ := claims["name"].(string)
	if _, err := uuid.Parse(id); err != nil || name == "" {
		return Player{}, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	return Player{ID: id, Name: name}, nil
}

// SetCookie writes the session cookie for p.
func (m *Manager) SetCookie(w http.ResponseWriter, p Player) error {
	token, err := m.Issue(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Middleware attaches the caller's player to the request context and
// issues a new identity when the cookie is missing or invalid.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Player
		c, err := r.Cookie(CookieName)
		if err == nil {
			p, err = m.Parse(c.Value)
			if err != nil {
				m.log.Debug("discarding session cookie", zap.Error(err))
			}
		}
		if err != nil {
			p = NewPlayer()
			if err := m.SetCookie(w, p); err != nil {
				m.log.Error("issue session", zap.Error(err))
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			m.log.Debug("issued session", zap.String("player_id", p.ID))
		}
		next.ServeHTTP(w, r.WithContext(WithPlayer(r.Context(), p)))
	})
}

// ValidateName trims and escapes a nickname of 1 to 63 characters.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > engine.MaxNameLen {
		return "", fmt.Errorf("name must be 1-%d characters: %w", engine.MaxNameLen, engine.ErrValidation)
	}
	return html.EscapeString(name), nil
}
