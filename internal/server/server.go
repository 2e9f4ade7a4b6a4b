// Package server provides the http server exposing the counter and game
// services, the auth endpoints, and the event stream
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/streamkit/tally/internal/auth"
	"github.com/streamkit/tally/internal/bus"
	"github.com/streamkit/tally/internal/core"
)

type Config struct {
	Port int
}

type Server struct {
	*http.Server

	cr   core.Core
	auth *auth.Service
	bus  bus.Bus
	l    *zap.SugaredLogger
}

func New(l *zap.SugaredLogger, c Config, cr core.Core, authSvc *auth.Service, b bus.Bus) *Server {
	r := mux.NewRouter()

	s := &Server{
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", c.Port),
			Handler:     r,
			ReadTimeout: 5 * time.Second,
			// The event stream holds its connection open, so no
			// write timeout here
		},
		cr:   cr,
		auth: authSvc,
		bus:  b,
		l:    l,
	}

	// Reads are open to any caller
	r.HandleFunc("/api/games", s.handleListGames()).Methods(http.MethodGet)
	r.HandleFunc("/api/games/{name}", s.handleGetGame()).Methods(http.MethodGet)
	r.HandleFunc("/api/games/{game}/counters", s.handleListCounters()).Methods(http.MethodGet)
	r.HandleFunc("/api/games/{game}/counters/{name}", s.handleGetCounter()).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleEvents()).Methods(http.MethodGet)

	// Mutations require a session
	r.HandleFunc("/api/games/{game}/counters", s.requireSession(s.handleAddCounter())).Methods(http.MethodPost)
	r.HandleFunc("/api/games/{game}/counters/{name}", s.requireSession(s.handleDeleteCounter())).Methods(http.MethodDelete)
	r.HandleFunc("/api/games/{game}/counters/{name}/increment", s.requireSession(s.handleAdjustCounter(1))).Methods(http.MethodPost)
	r.HandleFunc("/api/games/{game}/counters/{name}/decrement", s.requireSession(s.handleAdjustCounter(-1))).Methods(http.MethodPost)

	r.HandleFunc("/auth/login", s.handleLogin()).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", s.handleCallback()).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", s.handleLogout()).Methods(http.MethodPost)

	r.HandleFunc("/healthz", handleHealthCheck()).Methods(http.MethodGet)

	r.Use(loggingMiddleware(l))

	return s
}

func loggingMiddleware(l *zap.SugaredLogger) mux.MiddlewareFunc {
	// God i hate the nesting
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.RequestURI == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			l.Infow("request received", "uri", r.RequestURI, "method", r.Method)

			// Call the next handler, which can be another middleware in the chain, or the final handler.
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const sessionContextKey contextKey = "session"

// requireSession gates a mutating handler behind a valid session. The token
// comes from a bearer header or the session cookie.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, auth.ErrInvalidSession)
			return
		}

		session, err := s.auth.ValidateSession(token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func extractToken(r *http.Request) string {
	const bearerPrefix = "Bearer "

	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > len(bearerPrefix) && authHeader[:len(bearerPrefix)] == bearerPrefix {
		return authHeader[len(bearerPrefix):]
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		return cookie.Value
	}

	return ""
}

func handleHealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}
