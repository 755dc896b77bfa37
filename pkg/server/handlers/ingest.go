package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/soundprediction/recall"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/server/dto"
)

const writeWait = 10 * time.Second

// IngestHandler handles ingestion queue requests
type IngestHandler struct {
	client   recall.Recall
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(client recall.Recall, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		client: client,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are policed by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Ingest handles POST /ingest
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	item, err := h.client.Ingest(c.Request.Context(), TenantFrom(c), req.ToInput(), "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.QueueItemResponse{QueueItemID: item.ID})
}

// Status handles GET /ingest/:id
func (h *IngestHandler) Status(c *gin.Context) {
	item, err := h.client.GetIngestItem(c.Request.Context(), TenantFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Retry handles POST /ingest/:id/retry
func (h *IngestHandler) Retry(c *gin.Context) {
	item, err := h.client.RetryIngest(c.Request.Context(), TenantFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.QueueItemResponse{QueueItemID: item.ID})
}

// Stream handles GET /ingest/:id/ws. It sends the current status, then every
// status change until the item reaches a terminal state or the client leaves.
func (h *IngestHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := TenantFrom(c)
	id := c.Param("id")

	// Subscribe before reading the current status so no transition is lost.
	events, unsubscribe := h.client.SubscribeIngest(id)
	defer unsubscribe()

	item, err := h.client.GetIngestItem(ctx, tenant, id)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "queue_item_id", id, "error", err)
		return
	}
	defer conn.Close()

	send := func(ev ingest.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}
	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	current := ingest.Event{QueueItemID: item.ID, Status: item.Status, Error: item.Error, Output: item.Output}
	if err := send(current); err != nil {
		return
	}
	if item.Status.Terminal() {
		closeNormal()
		return
	}

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				h.logger.Debug("websocket write failed", "queue_item_id", id, "error", err)
				return
			}
			if ev.Status.Terminal() {
				closeNormal()
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
