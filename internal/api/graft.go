package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/graftfs/graft/internal/daemon"
	"github.com/graftfs/graft/internal/version"
)

type statusResponse struct {
	*daemon.Status
	Version string `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.daemon.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: st, Version: version.Version()})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.daemon.Plan()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.Mount()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, run)
	case errors.Is(err, daemon.ErrAlreadyMounted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, daemon.ErrNoModules):
		writeError(w, http.StatusBadRequest, err.Error())
	case run != nil:
		// Partial failure: the run stays live and carries the error.
		writeJSON(w, http.StatusInternalServerError, run)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	err := s.daemon.Unmount()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "unmounted"})
	case errors.Is(err, daemon.ErrNotMounted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.daemon.Runs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.daemon.Run(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.SweepStorage()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
