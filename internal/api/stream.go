package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/variant-interpretation-server/internal/domain"
	"github.com/variant-interpretation-server/internal/input"
	"github.com/variant-interpretation-server/internal/middleware"
	"github.com/variant-interpretation-server/internal/pipeline"
)

// Stream event types
const (
	EventAccepted = "accepted"
	EventRecord   = "record"
	EventComplete = "complete"
	EventError    = "error"
)

const (
	streamRequestTimeout = 30 * time.Second
	streamWriteTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamRequest is the first message a stream client sends
type StreamRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	APIKey   string `json:"api_key,omitempty"`
}

// StreamEvent is one server to client message on the annotation stream
type StreamEvent struct {
	Type    string                  `json:"type"`
	BatchID string                  `json:"batch_id,omitempty"`
	Total   int                     `json:"total,omitempty"`
	Index   int                     `json:"index"`
	Record  *domain.AnnotatedRecord `json:"record,omitempty"`
	Batch   *domain.BatchResult     `json:"batch,omitempty"`
	Error   *domain.APIError        `json:"error,omitempty"`
}

// streamConn serializes writes to a websocket connection
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *streamConn) send(event StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return s.conn.WriteJSON(event)
}

func (s *streamConn) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.conn.Close()
}

// handleAnnotateStream runs a batch over a websocket. The client sends one
// StreamRequest; the server replies with an accepted event, one record event
// per finished row in input order and a final complete or error event. The
// batch is cancelled when the client disconnects or sends a "cancel" message.
func (s *Server) handleAnnotateStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	conn := &streamConn{conn: ws}
	defer conn.close()

	requestID := c.GetString(middleware.RequestIDKey)
	log := s.logger.WithField("request_id", requestID)

	ws.SetReadLimit(s.maxUploadBytes())
	ws.SetReadDeadline(time.Now().Add(streamRequestTimeout))

	var req StreamRequest
	if err := ws.ReadJSON(&req); err != nil {
		conn.send(errorEvent(domain.ErrCodeInvalidInput, "invalid stream request", err, requestID))
		return
	}
	ws.SetReadDeadline(time.Time{})

	variants, err := input.ParseVariants(req.Filename, strings.NewReader(req.Content))
	if err != nil {
		conn.send(errorEvent(domain.ErrCodeInvalidInput, "invalid variant file", err, requestID))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Any read failure means the client went away
	go func() {
		defer cancel()
		for {
			var control struct {
				Type string `json:"type"`
			}
			if err := ws.ReadJSON(&control); err != nil {
				return
			}
			if control.Type == "cancel" {
				log.Info("Stream cancelled by client")
				return
			}
		}
	}()

	if err := conn.send(StreamEvent{Type: EventAccepted, Total: len(variants)}); err != nil {
		return
	}

	batch, err := s.service.Run(ctx, pipeline.Request{
		Variants: variants,
		APIKey:   req.APIKey,
		Progress: func(index int, rec domain.AnnotatedRecord) {
			if sendErr := conn.send(StreamEvent{Type: EventRecord, Index: index, Record: &rec}); sendErr != nil {
				cancel()
			}
		},
	})

	switch {
	case err == nil, batch != nil && errors.Is(err, context.Canceled):
		conn.send(StreamEvent{Type: EventComplete, BatchID: batch.ID, Total: batch.Total, Batch: batch})
	case errors.Is(err, domain.ErrMissingCredential):
		conn.send(errorEvent(domain.ErrCodeMissingCredential, "text-generation API key is required", err, requestID))
	default:
		log.WithFields(logrus.Fields{"error": err.Error()}).Error("Stream batch failed")
		conn.send(errorEvent(domain.ErrCodeInternalServer, "batch failed", err, requestID))
	}
}

func errorEvent(code, message string, err error, requestID string) StreamEvent {
	return StreamEvent{
		Type:  EventError,
		Error: domain.NewAPIError(code, message, err.Error(), requestID),
	}
}
