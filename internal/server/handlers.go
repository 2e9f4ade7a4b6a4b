package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	sessionCookieName = "session"
	stateCookieName   = "oauth_state"
)

func (s *Server) handleListGames() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := s.cr.ListGames(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, games)
	}
}

func (s *Server) handleGetGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, err := s.cr.GetGame(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, game)
	}
}

func (s *Server) handleListCounters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDVar(w, r)
		if !ok {
			return
		}

		counters, err := s.cr.ListCounters(r.Context(), gameID)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, counters)
	}
}

func (s *Server) handleGetCounter() http.HandlerFunc {
	type response struct {
		Count int64 `json:"count"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDVar(w, r)
		if !ok {
			return
		}

		count, err := s.cr.GetCount(r.Context(), gameID, mux.Vars(r)["name"])
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, response{Count: count})
	}
}

func (s *Server) handleAddCounter() http.HandlerFunc {
	type request struct {
		Name string `json:"name"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDVar(w, r)
		if !ok {
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		if req.Name == "" {
			writeBadRequest(w, "name is required")
			return
		}

		if err := s.cr.AddCounter(r.Context(), gameID, req.Name); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleDeleteCounter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDVar(w, r)
		if !ok {
			return
		}

		if err := s.cr.DeleteCounter(r.Context(), gameID, mux.Vars(r)["name"]); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleAdjustCounter serves both increment and decrement; the delta is the
// only difference between the two routes
func (s *Server) handleAdjustCounter(delta int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID, ok := gameIDVar(w, r)
		if !ok {
			return
		}

		name := mux.Vars(r)["name"]

		var err error
		if delta > 0 {
			err = s.cr.IncrementCounter(r.Context(), gameID, name)
		} else {
			err = s.cr.DecrementCounter(r.Context(), gameID, name)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, state := s.auth.LoginURL()

		http.SetCookie(w, &http.Cookie{
			Name:     stateCookieName,
			Value:    state,
			Path:     "/auth",
			MaxAge:   600,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, u, http.StatusTemporaryRedirect)
	}
}

func (s *Server) handleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateCookie, err := r.Cookie(stateCookieName)
		if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
			writeBadRequest(w, "oauth state mismatch")
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			writeBadRequest(w, "missing code")
			return
		}

		session, err := s.auth.CompleteLogin(r.Context(), code)
		if err != nil {
			writeError(w, err)
			return
		}

		s.l.Infow("operator signed in", "user_id", session.UserID, "username", session.Username)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    session.Token,
			Path:     "/",
			Expires:  session.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := extractToken(r); token != "" {
			s.auth.InvalidateSession(token)
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})

		w.WriteHeader(http.StatusNoContent)
	}
}

// gameIDVar parses the {game} path variable, writing a 400 itself when the
// id isn't an integer
func gameIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["game"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid game id")
		return 0, false
	}

	return id, true
}
