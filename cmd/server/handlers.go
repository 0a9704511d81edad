package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"upsnapshot/internal/config"
	"upsnapshot/internal/log"
	"upsnapshot/internal/refresh"
	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
	"upsnapshot/internal/views"
)

// api serves the read views of one entry. entry is nil until the first
// refresh has succeeded.
type api struct {
	entryID        string
	requestTimeout time.Duration
	logger         *log.Logger
	entry          atomic.Pointer[refresh.Entry]
}

func newAPI(entryID string, requestTimeout time.Duration, logger *log.Logger) *api {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &api{entryID: entryID, requestTimeout: requestTimeout, logger: logger.WithComponent(log.ComponentHTTP)}
}

type statusResponse struct {
	EntryID string `json:"entry_id"`
	Ready   bool   `json:"ready"`
	refresh.Status
}

type settingsBody struct {
	RefreshMinutes int `json:"refresh_minutes"`
}

type refreshResponse struct {
	Triggered bool `json:"triggered"`
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/snapshot", a.get(func(w http.ResponseWriter, snap *snapshot.Snapshot) {
		writeJSON(w, http.StatusOK, snap)
	}))
	mux.HandleFunc("/api/summary", a.get(func(w http.ResponseWriter, snap *snapshot.Snapshot) {
		writeJSON(w, http.StatusOK, views.Summarize(snap))
	}))
	mux.HandleFunc("/api/accounts", a.get(func(w http.ResponseWriter, snap *snapshot.Snapshot) {
		writeJSON(w, http.StatusOK, views.Accounts(snap))
	}))
	mux.HandleFunc("/api/transactions/latest", a.get(func(w http.ResponseWriter, snap *snapshot.Snapshot) {
		lt, ok := views.LatestTransaction(snap)
		if !ok {
			http.Error(w, "no transactions", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, lt)
	}))
	mux.HandleFunc("/api/sensors", a.handleSensors)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/refresh", a.handleRefresh)
	mux.HandleFunc("/api/settings", a.handleSettings)
	return mux
}

// get wraps a read view: GET only, 503 until there is a snapshot.
func (a *api) get(view func(http.ResponseWriter, *snapshot.Snapshot)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := a.snapshot()
		if snap == nil {
			http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
			return
		}
		view(w, snap)
	}
}

func (a *api) snapshot() *snapshot.Snapshot {
	if e := a.entry.Load(); e != nil {
		return e.CurrentSnapshot()
	}
	return nil
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if e := a.entry.Load(); e == nil || !e.LastRefreshSucceeded() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSensors lists the catalogue even without a snapshot; values are null then.
func (a *api) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, views.Sensors(a.entryID, a.snapshot()))
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{EntryID: a.entryID}
	if e := a.entry.Load(); e != nil {
		resp.Ready = e.Ready()
		resp.Status = e.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh triggers a background cycle. On an entry whose last
// reconfiguration failed it retries that synchronously instead.
func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	e := a.entry.Load()
	if e == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	if !e.Ready() {
		a.reconfigure(w, r, e, e.Interval())
		return
	}
	if !e.RequestRefresh() {
		http.Error(w, "refresh already in flight", http.StatusConflict)
		return
	}
	a.logger.Debug("manual refresh requested", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusAccepted, refreshResponse{Triggered: true})
}

func (a *api) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var b settingsBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !config.IsAllowedRefreshMinutes(b.RefreshMinutes) {
		http.Error(w, "refresh_minutes must be one of 1, 2, 5, 10, 15, 30, 60", http.StatusBadRequest)
		return
	}
	e := a.entry.Load()
	if e == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	a.reconfigure(w, r, e, time.Duration(b.RefreshMinutes)*time.Minute)
}

func (a *api) reconfigure(w http.ResponseWriter, r *http.Request, e *refresh.Entry, interval time.Duration) {
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout)
	defer cancel()
	if err := e.Reconfigure(ctx, interval); err != nil {
		if errors.Is(err, upapi.ErrAuthenticationRejected) {
			a.logger.Error("reconfigure rejected by Up API", log.FieldError, err)
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{EntryID: a.entryID, Ready: e.Ready(), Status: e.Status()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
