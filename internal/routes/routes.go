// Package routes exposes the diagnosis API over HTTP.
package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openderm/diagnosis-api/internal/diagnosis"
	"github.com/openderm/diagnosis-api/internal/llm"
	"github.com/openderm/diagnosis-api/internal/server"
	"github.com/openderm/diagnosis-api/internal/storage"
)

// exhaustedMessage is the only thing a client sees when every credential
// and model failed. Raw provider errors stay in the logs.
const exhaustedMessage = "all upstream models are currently unavailable"

// Handler serves the diagnosis routes.
type Handler struct {
	service *diagnosis.Service
	store   storage.RecordStore
	logger  *slog.Logger
}

// NewHandler creates the route handler.
func NewHandler(service *diagnosis.Service, store storage.RecordStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, store: store, logger: logger}
}

// Mount attaches all routes to the router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.health)
	r.Route("/api/diagnosis", func(r chi.Router) {
		r.Post("/analyze", h.analyze)
		r.Post("/chat", h.chat)
		r.Get("/records", h.listRecords)
		r.Get("/records/{id}", h.getRecord)
	})
}

type analyzeRequest struct {
	Text            string   `json:"text"`
	ImageBase64     string   `json:"image_base64"`
	MIMEType        string   `json:"mime_type"`
	CandidateLabels []string `json:"candidate_labels"`
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Analyze(r.Context(), diagnosis.AnalyzeRequest{
		Text:            req.Text,
		ImageBase64:     req.ImageBase64,
		MIMEType:        req.MIMEType,
		CandidateLabels: req.CandidateLabels,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "record_id", result.RecordID)
	writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	History []chatTurn `json:"history"`
	Message string     `json:"message"`
}

type chatTurn struct {
	Role        string `json:"role"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history := make([]llm.ChatTurn, len(req.History))
	for i, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			writeError(w, http.StatusBadRequest, "history roles must be user or assistant")
			return
		}
		history[i] = llm.ChatTurn{
			Role:        turn.Role,
			Text:        turn.Text,
			ImageBase64: turn.ImageBase64,
			MIMEType:    turn.MIMEType,
		}
	}

	reply, err := h.service.Chat(r.Context(), diagnosis.ChatRequest{
		History: history,
		Message: req.Message,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	records, err := h.store.ListRecords(r.Context(), opts)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []*storage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetRecord(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service failures onto HTTP statuses. Exhaustion of
// every credential/model pair is a 503 with a generic body; the masked
// aggregate only goes to the request log.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	var exhausted *llm.ExhaustedError
	switch {
	case errors.Is(err, diagnosis.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "text or image_base64 is required")
	case errors.Is(err, diagnosis.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, diagnosis.ErrPromptTooLong):
		writeError(w, http.StatusBadRequest, "prompt exceeds the token budget")
	case errors.As(err, &exhausted):
		writeError(w, http.StatusServiceUnavailable, exhaustedMessage)
	default:
		writeError(w, http.StatusInternalServerError, "diagnosis failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
