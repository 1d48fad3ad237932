package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/graftfs/graft/internal/module"
)

type installRequest struct {
	// Source is a local archive path or an OCI image reference.
	Source string `json:"source"`
}

type trustRequest struct {
	// Path is a local archive signed by the certificate to pin.
	Path string `json:"path"`
}

type trustResponse struct {
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	mods, err := s.daemon.Modules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mods == nil {
		mods = []*module.Module{}
	}
	writeJSON(w, http.StatusOK, mods)
}

func (s *Server) handleInstallModule(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	res, err := s.daemon.Install(r.Context(), req.Source)
	if err != nil {
		// Installs fail on what the client handed us: a broken archive,
		// an unreachable image, or a signer the pin rejects.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info().Str("module", res.Module.ID).Str("source", req.Source).Msg("module installed")
	writeJSON(w, http.StatusCreated, res)
}

// moduleAction runs a store mutation and maps its errors.
func (s *Server) moduleAction(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id := pathParam(r, "id")
	if !isValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid module id")
		return
	}

	err := fn(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"module": id})
	case errors.Is(err, module.ErrNotInstalled):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleEnableModule(w http.ResponseWriter, r *http.Request) {
	s.moduleAction(w, r, s.daemon.Enable)
}

func (s *Server) handleDisableModule(w http.ResponseWriter, r *http.Request) {
	s.moduleAction(w, r, s.daemon.Disable)
}

func (s *Server) handleRemoveModule(w http.ResponseWriter, r *http.Request) {
	s.moduleAction(w, r, s.daemon.Remove)
}

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	fp, err := s.daemon.Trusted()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{Fingerprint: fp})
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	var req trustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	fp, err := s.daemon.Trust(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{Fingerprint: fp})
}
