package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/observability"
	"github.com/arin/xx-chat/internal/session"
)

func (s *Server) listModels(c *gin.Context) {
	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"models":  s.opts.Catalog.All(),
		"current": e.Model().ModelID,
	})
}

func (s *Server) selectModel(c *gin.Context) {
	var req struct {
		ModelID string `json:"model_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := s.opts.Catalog.Select(req.ModelID)
	if err != nil {
		s.fail(c, err)
		return
	}
	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := e.SelectModel(m); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": m})
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.opts.Conversations.ListConversations(c.Request.Context())
	if err != nil {
		s.fail(c, chat.PersistenceError("list conversations", err))
		return
	}
	if convs == nil {
		convs = []*chat.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := s.opts.Conversations.GetConversation(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, chat.PersistenceError("get conversation", err))
		return
	}
	msgs, err := s.opts.Conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		s.fail(c, chat.PersistenceError("list messages", err))
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func (s *Server) openConversation(c *gin.Context) {
	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := e.Open(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": e.ConversationID(),
		"messages":        e.Messages(),
	})
}

func (s *Server) deleteConversation(c *gin.Context) {
	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := e.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (s *Server) cancel(c *gin.Context) {
	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": e.Cancel()})
}

type chatRequest struct {
	// ConversationID continues an existing conversation. Empty keeps the
	// session's active one; "new" starts a fresh conversation.
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	// Image is base64 in JSON.
	Image     []byte `json:"image"`
	ImageType string `json:"image_type"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	e, err := s.engine(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if e.State() != session.StateIdle {
		s.fail(c, chat.ErrBusy)
		return
	}

	ctx := c.Request.Context()
	switch {
	case req.ConversationID == "new":
		e.NewConversation()
	case req.ConversationID != "" && req.ConversationID != e.ConversationID():
		if err := e.Open(ctx, req.ConversationID); err != nil {
			s.fail(c, err)
			return
		}
	}

	in := session.Input{Text: req.Text}
	if len(req.Image) > 0 {
		in.Image = &session.Image{Data: req.Image, ContentType: req.ImageType}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	events := make(chan session.Event, 64)
	done := make(chan struct{})
	unsubscribe := e.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		case <-done:
		}
	})

	type outcome struct {
		res *session.Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := e.Submit(ctx, in)
		unsubscribe()
		finished <- outcome{res, err}
	}()

	log := observability.LoggerFromContext(ctx, s.log)
	failed := false
	for {
		select {
		case ev := <-events:
			failed = s.writeEvent(c, ev) || failed
		case out := <-finished:
			close(done)
			for drained := false; !drained; {
				select {
				case ev := <-events:
					failed = s.writeEvent(c, ev) || failed
				default:
					drained = true
				}
			}
			if out.err != nil {
				log.Debug("chat failed", "error", out.err)
				// Rejections before the engine started (busy) emit no event.
				if !failed {
					c.SSEvent("error", errorBody(out.err))
					c.Writer.Flush()
				}
				return
			}
			if out.res == nil {
				c.SSEvent("done", gin.H{"conversation_id": e.ConversationID()})
				c.Writer.Flush()
				return
			}
			warnings := make([]string, 0, len(out.res.Warnings))
			for _, w := range out.res.Warnings {
				warnings = append(warnings, w.Error())
			}
			c.SSEvent("done", gin.H{
				"conversation_id": out.res.ConversationID,
				"message":         out.res.Message,
				"warnings":        warnings,
				"ttft_ms":         out.res.Metrics.TTFT.Milliseconds(),
				"duration_ms":     out.res.Metrics.Duration.Milliseconds(),
			})
			c.Writer.Flush()
			return
		}
	}
}

// writeEvent forwards the engine events a client renders and reports
// whether ev was a failure. State changes are implied by the stream itself.
func (s *Server) writeEvent(c *gin.Context, ev session.Event) bool {
	switch ev.Type {
	case session.EventDelta:
		c.SSEvent("delta", gin.H{"token": ev.Delta})
	case session.EventMessage:
		c.SSEvent("message", gin.H{"conversation_id": ev.ConversationID, "message": ev.Message})
	case session.EventWarning:
		c.SSEvent("warning", errorBody(ev.Err))
	case session.EventFailed:
		c.SSEvent("error", errorBody(ev.Err))
		c.Writer.Flush()
		return true
	default:
		return false
	}
	c.Writer.Flush()
	return false
}
