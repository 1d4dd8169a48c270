package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// streamChanges отдаёт живую ленту изменений как text/event-stream.
// Фильтр ?entity=ITEMS,ORDERS (можно повторять параметр); без фильтра приходят все события.
func (h *Handler) streamChanges(w http.ResponseWriter, r *http.Request) {
	entities, err := parseEntities(r.URL.Query()["entity"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	sub, err := h.services.Changes.Subscribe(entities...)
	if err != nil {
		writeErrorCode(w, http.StatusServiceUnavailable, "UNAVAILABLE", "change feed is not available")
		return
	}
	defer h.services.Changes.Unsubscribe(sub)

	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.WithError(err).Warn("response writer does not support streaming")
		return
	}

	logger := h.logger.WithField("subscriber_id", sub.ID)
	logger.Debug("sse subscriber connected")
	defer logger.Debug("sse subscriber disconnected")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, msg []byte) error {
	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", strings.ToLower(string(head.Entity)), msg)
	return err
}

func parseEntities(values []string) ([]domain.EntityTag, error) {
	var tags []domain.EntityTag
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			tag, err := domain.ParseEntityTag(raw)
			if err != nil {
				return nil, err
			}
			tags = append(tags, tag)
		}
	}
	return tags, nil
}
