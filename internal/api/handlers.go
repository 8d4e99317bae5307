// Package api implements the HTTP surface of the messages service: the
// history endpoint the widget reconciles against, the send-persistence
// endpoint, and the channel registry for the authenticated viewer.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"hostelhub/internal/auth"
	"hostelhub/internal/chat"
	"hostelhub/internal/models"
	"hostelhub/internal/storage"
)

// Handler serves the messages service API.
type Handler struct {
	Repo     storage.Repository
	Registry *chat.Registry
	Verifier *auth.Verifier
	Logger   *slog.Logger
}

type contextKey string

const tokenContextKey contextKey = "api_token"

// ContextWithToken stores the authenticated token record on the context.
func ContextWithToken(ctx context.Context, token models.APIToken) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext returns the authenticated token record stored by the auth
// middleware.
func TokenFromContext(ctx context.Context) (models.APIToken, bool) {
	token, ok := ctx.Value(tokenContextKey).(models.APIToken)
	return token, ok
}

// ExtractToken pulls the bearer credential from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthenticateRequest verifies the request's bearer credential.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.APIToken, error) {
	if h.Verifier == nil {
		return models.APIToken{}, errors.New("token verification unavailable")
	}
	presented := ExtractToken(r)
	if presented == "" {
		return models.APIToken{}, errors.New("missing bearer token")
	}
	return h.Verifier.Verify(r.Context(), presented)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Channels returns the channel registry visible to the viewer.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	writeJSON(w, http.StatusOK, h.Registry.Channels())
}

type createMessageRequest struct {
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

// Messages serves GET (channel history) and POST (persist a send).
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listMessages(w, r)
	case http.MethodPost:
		h.createMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channelID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("channel query parameter is required"))
		return
	}
	if !h.Registry.Contains(channelID) {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
		return
	}
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit value"))
			return
		}
		limit = parsed
	}
	messages, err := h.Repo.ListMessages(r.Context(), channelID, limit)
	if err != nil {
		h.logError(r, "list messages failed", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list messages"))
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	token, ok := TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return
	}
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request payload"))
		return
	}
	channelID := strings.TrimSpace(req.Channel)
	if channelID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("channel is required"))
		return
	}
	if !h.Registry.Contains(channelID) {
		writeError(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
		return
	}
	message, err := h.Repo.CreateMessage(r.Context(), storage.CreateMessageParams{
		ChannelID: channelID,
		SenderID:  token.UserID,
		Body:      req.Body,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	if h.Logger != nil {
		h.Logger.Error(msg, "path", r.URL.Path, "error", err)
	}
}
