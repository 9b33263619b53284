package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/dagbolade/munin-core/internal/tool"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const defaultLocale = "en-US"

// Agent runs one call to completion.
type Agent interface {
	Handle(ctx context.Context, input string, autoApprove bool) ([]protocol.Event, error)
}

// EventSink receives every event the server produces, in order per session.
type EventSink interface {
	Emit(sessionID string, event protocol.Event)
}

// Catalog lists the tools the runtime can reach.
type Catalog interface {
	Catalog() []tool.Entry
}

type TranscriptRequest struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	Locale     string `json:"locale"`
}

type TranscriptResponse struct {
	SessionID string           `json:"session_id"`
	Locale    string           `json:"locale"`
	Events    []protocol.Event `json:"events"`
}

type TranscriptHandler struct {
	agent       Agent
	sink        EventSink
	autoApprove bool
}

func NewTranscriptHandler(agent Agent, sink EventSink, autoApprove bool) *TranscriptHandler {
	return &TranscriptHandler{agent: agent, sink: sink, autoApprove: autoApprove}
}

// Submit runs a transcript through the agent and returns the full event
// sequence. Approval is a server setting; the request cannot grant it.
func (h *TranscriptHandler) Submit(c echo.Context) error {
	var req TranscriptRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("invalid transcript request body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if strings.TrimSpace(req.Transcript) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "transcript is required",
		})
	}

	turn := protocol.SpeechTurn{
		SessionID:  req.SessionID,
		Transcript: req.Transcript,
		Locale:     req.Locale,
	}
	if turn.SessionID == "" {
		turn.SessionID = uuid.NewString()
	}
	if turn.Locale == "" {
		turn.Locale = defaultLocale
	}

	h.emit(turn.SessionID, protocol.NewTranscript(turn))

	events, err := h.agent.Handle(c.Request().Context(), turn.Transcript, h.autoApprove)
	for _, event := range events {
		h.emit(turn.SessionID, event)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info().Str("session_id", turn.SessionID).Msg("transcript request abandoned")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "request abandoned",
			})
		}
		log.Error().Err(err).Str("session_id", turn.SessionID).Msg("agent call aborted")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "agent call aborted",
		})
	}

	log.Debug().Str("session_id", turn.SessionID).Int("events", len(events)).Msg("transcript handled")

	return c.JSON(http.StatusOK, TranscriptResponse{
		SessionID: turn.SessionID,
		Locale:    turn.Locale,
		Events:    events,
	})
}

func (h *TranscriptHandler) emit(sessionID string, event protocol.Event) {
	if h.sink != nil {
		h.sink.Emit(sessionID, event)
	}
}

type ToolsHandler struct {
	catalog Catalog
}

func NewToolsHandler(catalog Catalog) *ToolsHandler {
	return &ToolsHandler{catalog: catalog}
}

func (h *ToolsHandler) List(c echo.Context) error {
	tools := h.catalog.Catalog()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total": len(tools),
		"tools": tools,
	})
}
