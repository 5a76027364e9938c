package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/binsight/internal/logger"
	"github.com/ayusman/binsight/internal/pipeline"
)

// maxMessageBytes bounds a single websocket detection request.
const maxMessageBytes = maxRequestBytes

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on every other route too
	},
}

// DetectSocketHandler runs detection over a websocket. Each text message is
// a detection request and gets exactly one response, in order. Failures are
// answered with an empty detection list, as on /detect.
type DetectSocketHandler struct {
	pipeline *pipeline.Pipeline
	logger   *logger.Logger
}

// NewDetectSocketHandler creates a new DetectSocketHandler.
func NewDetectSocketHandler(p *pipeline.Pipeline, log *logger.Logger) *DetectSocketHandler {
	return &DetectSocketHandler{pipeline: p, logger: log}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *DetectSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageBytes)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warning("websocket read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp, err := h.handle(r, data)
		if err != nil {
			h.logger.Error("detect failed (%s): %v", pipeline.Kind(err), err)
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(pipeline.Suppress(resp, err)); err != nil {
			h.logger.Warning("websocket write error: %v", err)
			return
		}
	}
}

func (h *DetectSocketHandler) handle(r *http.Request, data []byte) (pipeline.Response, error) {
	req, err := pipeline.ParseRequest(data)
	if err != nil {
		return pipeline.Response{}, err
	}
	return h.pipeline.Run(r.Context(), req)
}
