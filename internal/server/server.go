// Package server exposes session engines over HTTP. Each client session
// (X-Session-ID header) gets its own engine; answers stream back as
// server-sent events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/models"
	"github.com/arin/xx-chat/internal/observability"
	"github.com/arin/xx-chat/internal/session"
)

// SessionHeader carries the client session id. The server assigns one and
// echoes it back when the request has none.
const SessionHeader = "X-Session-ID"

// Conversations is the read side of the conversation store.
type Conversations interface {
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	ListConversations(ctx context.Context) ([]*chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

type Options struct {
	Conversations Conversations
	Catalog       *models.Catalog
	NewEngine     func() (*session.Engine, error)
	// Observers are subscribed to every engine the server creates.
	Observers []session.Observer
	// BlobDir, when set, is served under /blobs.
	BlobDir string
	Logger  *slog.Logger
}

type Server struct {
	opts   Options
	log    *slog.Logger
	router *gin.Engine

	mu       sync.Mutex
	sessions map[string]*session.Engine
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = observability.Logger()
	}
	s := &Server{
		opts:     opts,
		log:      log,
		sessions: make(map[string]*session.Engine),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	if s.opts.BlobDir != "" {
		r.Static("/blobs", s.opts.BlobDir)
	}

	api := r.Group("/api", s.sessionID())
	api.GET("/models", s.listModels)
	api.PUT("/model", s.selectModel)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id/messages", s.listMessages)
	api.POST("/conversations/:id/open", s.openConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.POST("/chat", s.chat)
	api.POST("/chat/cancel", s.cancel)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"session", c.GetString("session_id"),
		)
	}
}

func (s *Server) sessionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			id = shortuuid.New()
		}
		c.Header(SessionHeader, id)
		c.Set("session_id", id)
		c.Request = c.Request.WithContext(observability.WithSessionID(c.Request.Context(), id))
		c.Next()
	}
}

// engine returns the engine of the request's session, creating it on first
// use.
func (s *Server) engine(c *gin.Context) (*session.Engine, error) {
	id := c.GetString("session_id")

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e, nil
	}
	e, err := s.opts.NewEngine()
	if err != nil {
		return nil, err
	}
	for _, obs := range s.opts.Observers {
		e.Subscribe(obs)
	}
	s.sessions[id] = e
	return e, nil
}

// Shutdown cancels every in-flight answer.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.sessions {
		e.Cancel()
	}
}

func statusFor(err error) int {
	if errors.Is(err, chat.ErrNotFound) {
		return http.StatusNotFound
	}
	switch chat.KindOf(err) {
	case chat.KindConfig, chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindBusy:
		return http.StatusConflict
	case chat.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) gin.H {
	h := gin.H{"error": err.Error()}
	if kind := chat.KindOf(err); kind != "" {
		h["kind"] = kind
	}
	var ce *chat.Error
	if errors.As(err, &ce) {
		if ce.Provider != "" {
			h["provider"] = ce.Provider
		}
		if ce.Status != 0 {
			h["status"] = ce.Status
		}
	}
	return h
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(c.Request.Context(), s.log).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, errorBody(err))
}
