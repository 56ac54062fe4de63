package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/lectern/internal/assembler"
	"github.com/mohammad-safakhou/lectern/internal/metrics"
	"github.com/mohammad-safakhou/lectern/internal/rag"
)

// QueryRequest is the body of POST /api/chatbot/query.
type QueryRequest struct {
	Query        string `json:"query"`
	SelectedText string `json:"selected_text,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
}

// QueryResponse is the answer with its sources.
type QueryResponse struct {
	Answer           string               `json:"answer"`
	Sources          []assembler.Citation `json:"sources"`
	SessionID        string               `json:"session_id"`
	TokensUsed       int                  `json:"tokens_used"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
	Degraded         bool                 `json:"degraded,omitempty"`
}

type ChatbotHandler struct {
	Bot     Chatbot
	Metrics *metrics.Metrics
}

func (h *ChatbotHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.POST("/sessions/:id/clear", h.clearSession)
	g.GET("/health", h.health)
}

// query answers a question about the textbook.
//
//	@Summary  Ask a question
//	@Tags     chatbot
//	@Accept   json
//	@Produce  json
//	@Success  200 {object} QueryResponse
//	@Failure  400 {object} map[string]string
//	@Failure  503 {object} map[string]string
//	@Router   /api/chatbot/query [post]
func (h *ChatbotHandler) query(c echo.Context) error {
	var body QueryRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if body.TopK < 0 || body.TopK > 20 {
		return echo.NewHTTPError(http.StatusBadRequest, "top_k must be between 1 and 20")
	}
	resp, err := h.Bot.Query(c.Request().Context(), rag.Request{
		Query:       body.Query,
		Highlighted: body.SelectedText,
		SessionID:   body.SessionID,
		TopK:        body.TopK,
	})
	if err != nil {
		return err
	}
	sources := resp.Citations
	if sources == nil {
		sources = []assembler.Citation{}
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Answer:           resp.Answer,
		Sources:          sources,
		SessionID:        resp.SessionID,
		TokensUsed:       resp.TokensUsed,
		ProcessingTimeMs: resp.ElapsedMs,
		Degraded:         resp.Degraded,
	})
}

// clearSession drops a session's history.
//
//	@Summary  Clear conversation history
//	@Tags     chatbot
//	@Produce  json
//	@Param    id path string true "Session ID"
//	@Success  200 {object} map[string]string
//	@Router   /api/chatbot/sessions/{id}/clear [post]
func (h *ChatbotHandler) clearSession(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if err := h.Bot.ClearSession(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Session %s cleared", id),
	})
}

func (h *ChatbotHandler) health(c echo.Context) error {
	hs := h.Bot.Health(c.Request().Context())
	if s, ok := hs.Components["sessions"]; ok && s.Active != nil && h.Metrics != nil {
		h.Metrics.SetActiveSessions(*s.Active)
	}
	return c.JSON(http.StatusOK, hs)
}
