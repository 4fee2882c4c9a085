package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cards-party-backend/internal/service"
)

func SetupRoutes(a *API) http.Handler {
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	if a.DashboardPath == "" {
		a.DashboardPath = "/"
	}
	if a.MaxDeckBytes <= 0 {
		a.MaxDeckBytes = service.DefaultMaxDeckBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.Log))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(a.Sessions.Middleware)

		r.Get("/matches", a.ListMatches)
		r.Post("/matches", a.CreateMatch)
		r.Post("/matches/{matchID}/join", a.JoinMatch)
		r.Post("/matches/{matchID}/spectate", a.Spectate)
		r.Get("/matches/{matchID}/qr.png", a.MatchQR)

		r.Post("/player/name", a.Rename)

		// Match-scoped routes act on the caller's current match.
		r.Route("/match", func(r chi.Router) {
			r.Post("/abandon", a.Abandon)
			r.Get("/status", a.Status)
			r.Get("/participants", a.Participants)
			r.Get("/cards", a.Cards)
			r.Post("/choose", a.Choose)
			r.Post("/pick", a.Pick)
			r.Get("/chat", a.Chat)
			r.Post("/chat", a.SendChat)
			r.Post("/skip", a.Skip)
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
