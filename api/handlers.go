package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"wohnwatch/models"
	"wohnwatch/services"
	"wohnwatch/workers"
)

type providerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type commandRequest struct {
	Command models.CommandType    `json:"command"`
	Params  *models.CommandParams `json:"params,omitempty"`
}

var knownCommands = map[models.CommandType]bool{
	models.CmdPollNow:      true,
	models.CmdPollSearch:   true,
	models.CmdToggleSearch: true,
	models.CmdPause:        true,
	models.CmdResume:       true,
	models.CmdProbe:        true,
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	all := s.providers.All()
	out := make([]providerInfo, 0, len(all))
	for _, p := range all {
		out = append(out, providerInfo{ID: p.ID(), Name: p.Name(), Enabled: p.Enabled()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		writeJSON(w, http.StatusOK, []workers.ProbeResult{})
		return
	}
	writeJSON(w, http.StatusOK, s.probe.Results())
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.searches.List())
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var in services.CreateSearchInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	search, err := s.searches.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, services.ErrUnknownProvider) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("Error creating search: %v", err)
		writeError(w, http.StatusInternalServerError, "could not save search")
		return
	}
	writeJSON(w, http.StatusOK, search)
}

func (s *Server) handleToggleSearch(w http.ResponseWriter, r *http.Request) {
	search, err := s.searches.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, services.ErrSearchNotFound) {
			notFound(w, r)
			return
		}
		log.Printf("Error toggling search: %v", err)
		writeError(w, http.StatusInternalServerError, "could not save search")
		return
	}
	writeJSON(w, http.StatusOK, search)
}

// handleResults runs one poll cycle for the search and returns its outcome. A failed
// notification still returns the results; the failure is only logged.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.searches.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrSearchNotFound) {
			notFound(w, r)
			return
		}
		if result == nil {
			log.Printf("Error polling search %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "poll failed")
			return
		}
		log.Printf("Warning: poll for search %s finished with error: %v", id, err)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusNotImplemented, "command queue not available for this store")
		return
	}

	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if !knownCommands[req.Command] {
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}

	id, err := s.commands.EnqueueCommand(r.Context(), req.Command, req.Params)
	if err != nil {
		log.Printf("Error enqueueing command: %v", err)
		writeError(w, http.StatusInternalServerError, "could not enqueue command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"id": id})
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to write response: %v", err)
	}
}
