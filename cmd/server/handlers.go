package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"balldrop.ai/internal/persistence/indexdb"
	"balldrop.ai/internal/protocol"
	"balldrop.ai/internal/sim/runner"
)

// raceAPI serves the operator and results endpoints.
type raceAPI struct {
	runner *runner.Runner
	idx    *indexdb.SQLiteIndex
	log    *log.Logger
	// names is used by start requests that carry no names.
	names []string
}

type startRequest struct {
	Names []string `json:"names"`
}

type commandResponse struct {
	OK     bool          `json:"ok"`
	Status runner.Status `json:"status"`
}

func (a *raceAPI) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next(rw, r)
	}
}

func (a *raceAPI) handleBuild(rw http.ResponseWriter, r *http.Request) {
	var req runner.BuildRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.runner.Build(ctx, req)
	a.reply(rw, st, err)
}

func (a *raceAPI) handleStart(rw http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	names := cleanNames(req.Names)
	if len(names) == 0 {
		names = a.names
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.runner.Start(ctx, names)
	a.reply(rw, st, err)
}

func (a *raceAPI) handleShake(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.runner.Shake(ctx)
	a.reply(rw, st, err)
}

func (a *raceAPI) handleReset(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.runner.Reset(ctx)
	a.reply(rw, st, err)
}

func (a *raceAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		Status  runner.Status  `json:"status"`
		Metrics runner.Metrics `json:"metrics"`
	}{a.runner.Status(), a.runner.Metrics()})
}

// handleRaces serves GET /v1/races and GET /v1/races/<id>/results.
func (a *raceAPI) handleRaces(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if a.idx == nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrNotFound, "results index disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/races"), "/")
	if rest == "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := a.idx.Races(ctx, limit)
		if err != nil {
			a.log.Printf("list races: %v", err)
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "list races failed")
			return
		}
		out := make([]protocol.RaceSummary, 0, len(rows))
		for _, row := range rows {
			out = append(out, raceSummary(row))
		}
		writeJSON(rw, http.StatusOK, out)
		return
	}

	raceID, tail, _ := strings.Cut(rest, "/")
	if tail != "results" || raceID == "" {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "unknown path")
		return
	}
	row, ok, err := a.idx.Race(ctx, raceID)
	if err != nil {
		a.log.Printf("race %s: %v", raceID, err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "lookup failed")
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "race "+raceID+" not found")
		return
	}
	rows, err := a.idx.Finishers(ctx, raceID)
	if err != nil {
		a.log.Printf("race %s finishers: %v", raceID, err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "lookup failed")
		return
	}
	fin := make([]protocol.Finisher, 0, len(rows))
	for _, f := range rows {
		fin = append(fin, protocol.Finisher{Entity: f.Entity, Name: f.Name, Rank: f.Rank, Tick: f.Tick, AtMs: f.AtMs})
	}
	writeJSON(rw, http.StatusOK, protocol.NewResults(raceSummary(row), fin))
}

func raceSummary(r indexdb.RaceRow) protocol.RaceSummary {
	return protocol.RaceSummary{
		RaceID:       r.RaceID,
		Seed:         r.Seed,
		Variant:      r.Variant,
		Digest:       r.Digest,
		Participants: r.Participants,
		Winners:      r.Winners,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func (a *raceAPI) reply(rw http.ResponseWriter, st runner.Status, err error) {
	if err != nil {
		code := errorCode(err)
		writeError(rw, httpStatus(code), code, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, commandResponse{OK: true, Status: st})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, runner.ErrNoRace):
		return protocol.ErrNoRace
	case errors.Is(err, runner.ErrStopped):
		return protocol.ErrClosed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrBusy
	default:
		return protocol.CodeFor(err)
	}
}

func httpStatus(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest, protocol.ErrInvalidConfig, protocol.ErrNoParticipants:
		return http.StatusBadRequest
	case protocol.ErrNoRace, protocol.ErrAlreadyStarted, protocol.ErrNotStarted, protocol.ErrShakeActive:
		return http.StatusConflict
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrClosed, protocol.ErrBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return false
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return true
	}
	if err := json.Unmarshal(b, v); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.NewError(code, msg))
}
