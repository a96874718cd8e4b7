package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"heatsim/calculator"
	"heatsim/job"
	"heatsim/model"
)

type submitResponse struct {
	Session string    `json:"session_id"`
	State   job.State `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("write response")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "heatsim"})
}

// submit handles POST /api/simulate.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req model.SimulationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error(), Kind: job.KindValidation})
		return
	}

	sess, err := s.jobs.Submit(&req)
	if err != nil {
		var (
			invalid *calculator.ValidationError
			limit   *calculator.LimitError
		)
		switch {
		case errors.As(err, &limit):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: job.KindLimit, Field: limit.Limit})
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: job.KindValidation, Field: invalid.Field})
		case errors.Is(err, job.ErrQueueFull), errors.Is(err, job.ErrShuttingDown):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: job.KindInternal})
		}
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{Session: sess.ID, State: sess.State})
}

func (s *Server) presets(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*model.SimulationRequest)
	for _, name := range model.PresetNames() {
		p, err := model.Preset(name)
		if err != nil {
			continue
		}
		out[name] = p
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.jobs.List()
	// the list stays small; results are fetched per session
	for i := range sessions {
		sessions[i].Result = nil
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// archive streams the compressed full field of a finished session.
func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.jobs.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if sess.State != job.StateDone || sess.Archive == "" {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "session has no archive in state " + string(sess.State)})
		return
	}
	path, err := s.store.FieldPath(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+"-"+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}
