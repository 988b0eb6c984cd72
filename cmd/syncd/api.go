package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"splitsync/auth"
	"splitsync/reconcile"
)

// api is the operational HTTP surface: account registration/login and the
// reconciliation endpoints for dead change events. Document reads and writes
// are not served here; clients talk to the record store directly and the
// engine reacts through the change feed.
type api struct {
	auth      *auth.Service
	reconcile *reconcile.Service
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /register", a.handleRegister)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("GET /me", a.authedParty(a.handleMe))
	mux.HandleFunc("DELETE /account", a.authedParty(a.handleDeleteAccount))
	mux.HandleFunc("GET /admin/dead-events", a.authed(a.handleListDead))
	mux.HandleFunc("GET /admin/dead-events/{id}", a.authed(a.handleGetDead))
	mux.HandleFunc("POST /admin/dead-events/{id}/requeue", a.authed(a.handleRequeue))
	mux.HandleFunc("POST /admin/dead-events/{id}/resolve", a.authed(a.handleResolve))
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	account, err := a.auth.Register(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrWeakPassword) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"party_id":     account.PartyID,
		"email":        account.Email,
		"display_name": account.DisplayName,
	})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		slog.Error("login failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    result.Token,
		"party_id": result.Account.PartyID,
	})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request, partyID string) {
	account, err := a.auth.Account(r.Context(), partyID)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		slog.Error("load account", "party_id", partyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"party_id":     account.PartyID,
		"email":        account.Email,
		"display_name": account.DisplayName,
	})
}

// handleDeleteAccount removes the caller's own party. Edge cleanup on the
// counterparts happens asynchronously through the change feed.
func (a *api) handleDeleteAccount(w http.ResponseWriter, r *http.Request, partyID string) {
	if err := a.auth.DeleteAccount(r.Context(), partyID); err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		slog.Error("delete account", "party_id", partyID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListDead(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := a.reconcile.List(r.Context(), limit)
	if err != nil {
		slog.Error("list dead events", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	type item struct {
		ID        int64   `json:"id"`
		Kind      string  `json:"kind"`
		DocID     string  `json:"doc_id"`
		Attempts  int     `json:"attempts"`
		LastError *string `json:"last_error,omitempty"`
	}
	out := make([]item, 0, len(records))
	for _, rec := range records {
		out = append(out, item{rec.ID, rec.Kind, rec.DocID, rec.Attempts, rec.LastError})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleGetDead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	rec, err := a.reconcile.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotDead) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("get dead event", "event_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         rec.ID,
		"kind":       rec.Kind,
		"doc_id":     rec.DocID,
		"attempts":   rec.Attempts,
		"last_error": rec.LastError,
	})
}

func (a *api) handleRequeue(w http.ResponseWriter, r *http.Request) {
	a.deadEventAction(w, r, a.reconcile.Requeue)
}

func (a *api) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.deadEventAction(w, r, a.reconcile.Resolve)
}

func (a *api) deadEventAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		if errors.Is(err, reconcile.ErrNotDead) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("dead event action", "event_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// authed wraps a handler with bearer-token verification.
func (a *api) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.bearerParty(w, r); !ok {
			return
		}
		next(w, r)
	}
}

// authedParty is authed for handlers acting on the caller's own account.
func (a *api) authedParty(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID, ok := a.bearerParty(w, r)
		if !ok {
			return
		}
		next(w, r, partyID)
	}
}

func (a *api) bearerParty(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return "", false
	}
	partyID, err := a.auth.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return partyID, true
}
