package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beamline-core/internal/audit"
	"github.com/nerrad567/beamline-core/internal/devicedb"
	"github.com/nerrad567/beamline-core/internal/screen"
)

// screenOpenTimeout bounds catalog lookups and monitor setup on open.
const screenOpenTimeout = 10 * time.Second

// OpenScreenRequest is the optional body of POST /screens/{name}/open.
type OpenScreenRequest struct {
	BeamPath string `json:"beam_path"`
}

// MoveTargetRequest is the body of POST /screens/{name}/target.
type MoveTargetRequest struct {
	WantIn *bool `json:"want_in"`
}

// ScreenResponse describes an open screen.
type ScreenResponse struct {
	Name     string   `json:"name"`
	BeamPath string   `json:"beam_path"`
	Upstream []string `json:"upstream"`
}

func screenResponse(s *screen.Screen) ScreenResponse {
	return ScreenResponse{
		Name:     s.Name(),
		BeamPath: s.BeamPath(),
		Upstream: s.Upstream(),
	}
}

// handleListBeamPaths returns every beam path in the catalog.
func (s *Server) handleListBeamPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := s.catalog.BeamPaths(r.Context())
	if err != nil {
		s.logger.Error("listing beam paths failed", "error", err)
		writeInternalError(w, "failed to list beam paths")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beam_paths": paths})
}

// handleListScreens returns the screens on a beam path, in beam order.
func (s *Server) handleListScreens(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	deviceType := r.URL.Query().Get("type")
	if deviceType == "" {
		deviceType = screen.DefaultUpstreamDeviceType
	}

	names, err := s.catalog.DeviceNames(r.Context(), deviceType, path)
	switch {
	case errors.Is(err, devicedb.ErrNoDevices):
		writeNotFound(w, "no screens on beam path "+path)
		return
	case errors.Is(err, devicedb.ErrUnknownDeviceType):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		s.logger.Error("listing screens failed", "beam_path", path, "error", err)
		writeInternalError(w, "failed to list screens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beam_path": path, "screens": names})
}

// handleGetDevice returns catalog metadata for one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	meta, err := s.catalog.Device(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleListOpenScreens returns the screens the manager holds.
func (s *Server) handleListOpenScreens(w http.ResponseWriter, _ *http.Request) {
	names := s.screens.Names()
	out := make([]ScreenResponse, 0, len(names))
	for _, n := range names {
		if sc, ok := s.screens.Get(n); ok {
			out = append(out, screenResponse(sc))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"screens": out, "count": len(out)})
}

// handleOpenScreen opens (or reuses) a screen.
func (s *Server) handleOpenScreen(w http.ResponseWriter, r *http.Request) {
	var req OpenScreenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), screenOpenTimeout)
	defer cancel()

	sc, err := s.screens.Open(ctx, chi.URLParam(r, "name"), req.BeamPath)
	if err != nil {
		switch {
		case errors.Is(err, screen.ErrNotScreen), errors.Is(err, screen.ErrNoBeamPath):
			writeBadRequest(w, err.Error())
		case errors.Is(err, screen.ErrManagerClosed):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		default:
			writeCatalogError(w, err)
		}
		return
	}
	s.record(audit.ActionOpen, sc.Name(), r, map[string]any{"beam_path": sc.BeamPath()})
	writeJSON(w, http.StatusOK, screenResponse(sc))
}

// handleMoveTarget queues a target move. The outcome is streamed as events.
func (s *Server) handleMoveTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req MoveTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.WantIn == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "want_in is required")
		return
	}

	if err := s.screens.MoveTarget(name, *req.WantIn); err != nil {
		if errors.Is(err, screen.ErrNotOpen) || errors.Is(err, screen.ErrDestroyed) {
			writeNotFound(w, "screen "+name+" is not open")
			return
		}
		writeInternalError(w, "failed to queue move")
		return
	}
	if s.events != nil {
		s.events.MoveRequested(name, *req.WantIn)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"name":       name,
		"want_in":    *req.WantIn,
		"status":     "accepted",
		"request_id": requestID(r.Context()),
	})
}

// handleCloseScreen destroys an open screen.
func (s *Server) handleCloseScreen(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.screens.Close(name); err != nil {
		writeNotFound(w, "screen "+name+" is not open")
		return
	}
	s.record(audit.ActionClose, name, r, nil)
	w.WriteHeader(http.StatusNoContent)
}

// record queues an audit entry tagged with the request ID.
func (s *Server) record(action, device string, r *http.Request, details map[string]any) {
	if s.recorder == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if id := requestID(r.Context()); id != "" {
		details["request_id"] = id
	}
	s.recorder.Record(action, device, "api", details)
}

func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devicedb.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, devicedb.ErrUnknownDeviceType), errors.Is(err, devicedb.ErrNoAccessors):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
