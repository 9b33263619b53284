package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dagbolade/munin-core/internal/audit"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const defaultAuditLimit = 100

// AuditLister is the read side of the audit journal.
type AuditLister interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

type AuditHandler struct {
	store AuditLister
}

// NewAuditHandler accepts a nil store; the journal is then reported empty.
func NewAuditHandler(store AuditLister) *AuditHandler {
	return &AuditHandler{store: store}
}

func (h *AuditHandler) GetAuditLog(c echo.Context) error {
	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = n
	}

	entries := []audit.Entry{}
	if h.store != nil {
		var err error
		entries, err = h.store.List(c.Request().Context(), limit)
		if err != nil {
			log.Error().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("failed to retrieve audit log")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to retrieve audit log",
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":   len(entries),
		"entries": entries,
	})
}
