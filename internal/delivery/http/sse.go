package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelfscan/backend/internal/domain"
)

// StreamProgress is the live transport: it replays the session's log so far,
// then streams rate-limited events until the session finalizes or the client
// disconnects. Disconnection tears down delivery only; the resolution keeps
// running so its result still populates the caches.
func (h *Handler) StreamProgress(c *gin.Context) {
	sessionID := c.Param("sessionId")

	backlog, events, cancel, err := h.progress.Subscribe(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	defer cancel()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	for _, event := range backlog {
		if err := writeEvent(c.Writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, open := <-events:
			if !open {
				_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			if err := writeEvent(c.Writer, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
