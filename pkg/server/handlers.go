package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
)

const (
	headerSessionID = "X-Session-ID"

	msgInvalidJSON     = "Ungültiges JSON"
	msgTooLarge        = "Request too large"
	msgNotFound        = "Not found"
	msgSessionCleared  = "Session gelöscht"
	msgSessionNotFound = "Session nicht gefunden"
	msgBackendOK       = "Ollama ist erreichbar"
	hintStartBackend   = "Stelle sicher, dass Ollama gestartet ist (ollama serve)"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Timestamp      string `json:"timestamp"`
	SessionsActive int    `json:"sessions_active"`
}

type clearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type testOK struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	AvailableModels []string `json:"available_models"`
	ConfiguredModel string   `json:"configured_model"`
}

type testFailed struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	OllamaURL string `json:"ollama_url"`
	Hint      string `json:"hint"`
}

func (s *Server) registerHTTPHandlers() {
	s.mux.HandleFunc("/health", s.only(http.MethodGet, s.handleHealth))
	s.mux.HandleFunc("/config", s.only(http.MethodGet, s.handleConfig))
	s.mux.HandleFunc("/test-ollama", s.only(http.MethodGet, s.handleTestOllama))
	s.mux.HandleFunc("/chat", s.only(http.MethodPost, s.handleChat))
	s.mux.HandleFunc("/clear-session", s.only(http.MethodPost, s.handleClearSession))
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
	})
}

// only answers 404 for any other method, like unknown paths.
func (s *Server) only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Service:        "chatbot",
		Timestamp:      s.now().Format(time.RFC3339Nano),
		SessionsActive: s.orch.Store().Len(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

func (s *Server) handleTestOllama(w http.ResponseWriter, r *http.Request) {
	eff := s.orch.Settings()
	models, err := s.models.ListModels(r.Context(), eff.BackendURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("ollama_url", eff.BackendURL).Msg("backend test failed")
		writeJSON(w, http.StatusServiceUnavailable, testFailed{
			Success:   false,
			Error:     fmt.Sprintf("Ollama nicht erreichbar: %v", err),
			OllamaURL: eff.BackendURL,
			Hint:      hintStartBackend,
		})
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, testOK{
		Success:         true,
		Message:         msgBackendOK,
		AvailableModels: models,
		ConfiguredModel: eff.Model,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, status, err := s.readBody(w, r)
	if err != nil {
		s.logger.Debug().Err(err).Int("status", status).Msg("chat request rejected")
		writeJSON(w, status, errorResponse{Error: msgFor(status)})
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Debug().Err(err).Msg("chat request rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	hint := r.Header.Get(headerSessionID)
	if hint == "" {
		hint = req.SessionID
	}

	// a client that hangs up does not abort the backend call
	ctx := context.WithoutCancel(r.Context())
	reply, err := s.orch.HandleTurn(ctx, hint, req.Message)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) && gerr.Kind == gateway.KindValidation {
			s.logger.Debug().Str("reason", gerr.Message).Msg("chat request rejected")
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: gerr.Message})
			return
		}
		resp := errorResponse{Error: err.Error(), Hint: gateway.HintCheckConfig}
		status := http.StatusInternalServerError
		if gerr != nil {
			resp = errorResponse{Error: gerr.Message, Hint: gerr.Hint}
			if gerr.Kind == gateway.KindSessionBusy {
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		if body, _, err := s.readBody(w, r); err == nil {
			var req chatRequest
			if json.Unmarshal(body, &req) == nil {
				id = req.SessionID
			}
		}
	}

	msg := msgSessionNotFound
	if s.orch.ClearSession(r.Context(), id) {
		msg = msgSessionCleared
	}
	writeJSON(w, http.StatusOK, clearResponse{Success: true, Message: msg})
}

// readBody enforces the size cap before anything is parsed.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	if r.ContentLength > s.settings.MaxBodyBytes {
		return nil, http.StatusRequestEntityTooLarge, errors.Errorf("content length %d over limit", r.ContentLength)
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, err
		}
		return nil, http.StatusBadRequest, errors.Wrap(err, "read body")
	}
	return data, http.StatusOK, nil
}

func msgFor(status int) string {
	if status == http.StatusRequestEntityTooLarge {
		return msgTooLarge
	}
	return msgInvalidJSON
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+headerSessionID)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
