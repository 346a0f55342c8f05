// Package session implements the streaming chat session engine: it owns
// the active conversation's message list, drives one provider stream at a
// time and commits finished exchanges to the conversation store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arin/xx-chat/internal/ai"
	"github.com/arin/xx-chat/internal/blob"
	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/credentials"
	"github.com/arin/xx-chat/internal/observability"
)

// ConversationStore is the durable side of a conversation.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (string, error)
	// GetConversation returns chat.ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// BlobStore uploads attachments and returns their public URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Image is raw attachment data.
type Image struct {
	Data        []byte
	ContentType string
}

// Input is one user submission.
type Input struct {
	Text  string
	Image *Image
}

// Deps are the engine's collaborators. Blobs may be nil, in which case
// image attachments are rejected.
type Deps struct {
	Store       ConversationStore
	Blobs       BlobStore
	Credentials credentials.Source
	Adapters    *ai.Adapters
	Client      *ai.Client
	Logger      *slog.Logger
}

// streamState is the single mutable assistant message of an in-flight
// request.
type streamState struct {
	msg     chat.Message
	content strings.Builder
	deltas  int
}

func (s *streamState) snapshot() chat.Message {
	m := s.msg
	// Builder.String does not copy, so this stays O(1) per delta.
	m.Content = s.content.String()
	return m
}

type Engine struct {
	deps Deps
	log  *slog.Logger

	mu             sync.Mutex
	model          chat.ModelDescriptor
	state          State
	conversationID string
	messages       []chat.Message
	live           *streamState
	// gen increments whenever the active submission is abandoned. A
	// submission only touches engine state while its generation is current.
	gen    uint64
	cancel context.CancelFunc

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New returns an idle engine with no active conversation.
func New(deps Deps, model chat.ModelDescriptor) *Engine {
	log := deps.Logger
	if log == nil {
		log = observability.Logger()
	}
	return &Engine{
		deps:      deps,
		log:       log,
		model:     model,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers obs and returns a function that removes it.
func (e *Engine) Subscribe(obs Observer) (unsubscribe func()) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = obs
	return func() {
		e.obsMu.Lock()
		defer e.obsMu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) notify(ev Event) {
	e.obsMu.Lock()
	ids := make([]int, 0, len(e.observers))
	for id := range e.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	obs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, e.observers[id])
	}
	e.obsMu.Unlock()

	for _, o := range obs {
		o(ev)
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Model() chat.ModelDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Messages returns a snapshot of the conversation, including the live
// assistant message while a response streams.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := slices.Clone(e.messages)
	if e.live != nil {
		out = append(out, e.live.snapshot())
	}
	return out
}

// SelectModel switches the model used by the next submission. A response
// that is already streaming keeps its model.
func (e *Engine) SelectModel(m chat.ModelDescriptor) error {
	if !m.Enabled {
		return chat.ConfigError("select model", m.Provider, fmt.Errorf("model %q is disabled", m.ModelID))
	}
	if _, err := e.deps.Adapters.For(m.Provider); err != nil {
		return chat.ConfigError("select model", m.Provider, err)
	}
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
	return nil
}

// Cancel abandons the active submission, if any. Its partial answer is
// dropped and never persisted. It reports whether anything was cancelled.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	ok := e.abandonLocked()
	convID := e.conversationID
	e.mu.Unlock()
	if ok {
		e.notify(Event{Type: EventState, State: StateIdle, ConversationID: convID})
	}
	return ok
}

func (e *Engine) abandonLocked() bool {
	if e.state == StateIdle {
		return false
	}
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.live = nil
	e.state = StateIdle
	return true
}

// NewConversation starts an empty conversation. It is created in the store
// lazily by the next submission.
func (e *Engine) NewConversation() {
	e.mu.Lock()
	e.abandonLocked()
	e.conversationID = ""
	e.messages = nil
	e.mu.Unlock()
	e.notify(Event{Type: EventState, State: StateIdle})
}

// Open makes conversationID the active conversation and loads its history.
// An unknown id fails with a validation error wrapping chat.ErrNotFound and
// leaves the engine untouched.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	if _, err := e.deps.Store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.ValidationError("open conversation", fmt.Errorf("%q: %w", conversationID, err))
		}
		return chat.PersistenceError("open conversation", err)
	}

	e.Cancel()

	msgs, err := e.deps.Store.ListMessages(ctx, conversationID)
	if err != nil {
		return chat.PersistenceError("open conversation", err)
	}

	e.mu.Lock()
	// A submission started after the Cancel above wins.
	if e.state != StateIdle {
		e.mu.Unlock()
		return chat.ErrBusy
	}
	e.conversationID = conversationID
	e.messages = msgs
	e.mu.Unlock()
	e.notify(Event{Type: EventState, State: StateIdle, ConversationID: conversationID})
	return nil
}

// DeleteConversation deletes a conversation. Deleting the active one
// cancels its stream and leaves the engine on a new, empty conversation.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	active := e.conversationID == conversationID
	e.mu.Unlock()
	if active {
		e.NewConversation()
	}
	if err := e.deps.Store.DeleteConversation(ctx, conversationID); err != nil {
		return chat.PersistenceError("delete conversation", err)
	}
	return nil
}

// submission is the per-call context of one Submit.
type submission struct {
	gen      uint64
	ctx      context.Context
	model    chat.ModelDescriptor
	convID   string
	started  time.Time
	warnings []error
	log      *slog.Logger
}

// Submit sends one user turn and blocks until the assistant answer has
// been streamed and committed, or the submission failed.
//
// Empty text without an image is a no-op and returns nil, nil. A
// submission while another one is in flight returns chat.ErrBusy. On
// failure the user's message stays, the partial answer is discarded and
// nothing partial is persisted.
func (e *Engine) Submit(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" && in.Image == nil {
		return nil, nil
	}

	sub, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.finish(sub)

	res, err := e.run(sub, in)
	if err != nil {
		if sub.ctx.Err() != nil || !e.current(sub) {
			err = &chat.Error{Kind: chat.KindCanceled, Op: "submit", Provider: sub.model.Provider, Err: context.Canceled}
		}
		e.fail(sub, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) begin(ctx context.Context) (*submission, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, chat.ErrBusy
	}
	e.gen++
	subCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateAwaitingConversation
	sub := &submission{
		gen:     e.gen,
		ctx:     subCtx,
		model:   e.model,
		convID:  e.conversationID,
		started: time.Now(),
	}
	e.mu.Unlock()

	if sub.convID != "" {
		subCtx = observability.WithConversationID(subCtx, sub.convID)
	}
	sub.log = observability.LoggerFromContext(subCtx, e.log).With("model", sub.model.ModelID)
	e.notify(Event{Type: EventState, State: StateAwaitingConversation, ConversationID: sub.convID})
	return sub, nil
}

// current reports whether sub still owns the engine.
func (e *Engine) current(sub *submission) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == sub.gen
}

// finish returns the engine to Idle unless sub was already abandoned.
func (e *Engine) finish(sub *submission) {
	e.mu.Lock()
	if e.gen != sub.gen {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.cancel = nil
	e.live = nil
	wasIdle := e.state == StateIdle
	e.state = StateIdle
	convID := e.conversationID
	e.mu.Unlock()
	if !wasIdle {
		e.notify(Event{Type: EventState, State: StateIdle, ConversationID: convID})
	}
}

func (e *Engine) fail(sub *submission, err error) {
	if chat.KindOf(err) == chat.KindCanceled {
		sub.log.Info("submission cancelled")
	} else {
		sub.log.Warn("submission failed", "error", err)
	}
	m := sub.metrics(0, 0)
	e.notify(Event{Type: EventFailed, ConversationID: sub.convID, Err: err, Metrics: &m})
}

func (sub *submission) metrics(ttft time.Duration, deltas int) Metrics {
	return Metrics{
		Provider: sub.model.Provider,
		Model:    sub.model.ModelID,
		TTFT:     ttft,
		Duration: time.Since(sub.started),
		Deltas:   deltas,
	}
}

func (e *Engine) warn(sub *submission, err error) {
	sub.warnings = append(sub.warnings, err)
	sub.log.Warn("persistence failed", "error", err)
	e.notify(Event{Type: EventWarning, ConversationID: sub.convID, Err: err})
}

func (e *Engine) run(sub *submission, in Input) (*Result, error) {
	p := sub.model.Provider
	adapter, err := e.deps.Adapters.For(p)
	if err != nil {
		return nil, chat.ConfigError("submit", p, err)
	}

	// The credential is checked before anything is created or sent.
	apiKey, err := e.deps.Credentials.APIKey(sub.ctx, p)
	if err != nil {
		return nil, chat.ConfigError("submit", p, err)
	}

	var att *chat.Attachment
	if in.Image != nil {
		att, err = e.upload(sub, in.Image)
		if err != nil {
			return nil, err
		}
	}

	if sub.convID == "" {
		if err := e.createConversation(sub, in.Text); err != nil {
			return nil, err
		}
	}

	userMsg := chat.NewMessage(chat.RoleUser, in.Text, att)
	history, ok := e.appendLocal(sub, userMsg)
	if !ok {
		return nil, chat.ErrCanceled
	}
	e.notify(Event{Type: EventMessage, ConversationID: sub.convID, Message: userMsg})
	if err := e.deps.Store.AppendMessage(sub.ctx, sub.convID, userMsg); err != nil {
		e.warn(sub, chat.PersistenceError("save user message", err))
	}

	req, err := adapter.BuildRequest(sub.model.ModelID, apiKey, history)
	if err != nil {
		return nil, chat.ValidationError("build request", err)
	}

	sent := time.Now()
	stream, err := e.deps.Client.Open(sub.ctx, adapter, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if !e.startStreaming(sub) {
		return nil, chat.ErrCanceled
	}

	var ttft time.Duration
	for d := range stream.Deltas() {
		switch {
		case d.Err != nil:
			return nil, d.Err
		case d.Done:
			return e.commit(sub, ttft)
		default:
			snap, first, ok := e.applyDelta(sub, d.Token)
			if !ok {
				return nil, chat.ErrCanceled
			}
			if first {
				ttft = time.Since(sent)
			}
			e.notify(Event{Type: EventDelta, ConversationID: sub.convID, Delta: d.Token, Message: snap})
		}
	}
	// The channel only closes without a final item when sub.ctx is done.
	return nil, chat.ErrCanceled
}

func (e *Engine) upload(sub *submission, img *Image) (*chat.Attachment, error) {
	if e.deps.Blobs == nil {
		return nil, chat.ValidationError("upload image", errors.New("image attachments are not configured"))
	}
	// The sniffed type is what providers see, never a guess.
	contentType, err := blob.Validate(img.Data, img.ContentType)
	if err != nil {
		return nil, err
	}
	url, err := e.deps.Blobs.Upload(sub.ctx, img.Data, contentType)
	if err != nil {
		if chat.KindOf(err) == chat.KindValidation {
			return nil, err
		}
		return nil, chat.PersistenceError("upload image", err)
	}
	return &chat.Attachment{URL: url, ContentType: contentType}, nil
}

func (e *Engine) createConversation(sub *submission, text string) error {
	id, err := e.deps.Store.CreateConversation(sub.ctx, chat.TitleFrom(text))
	if err != nil {
		return chat.PersistenceError("create conversation", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != sub.gen {
		return chat.ErrCanceled
	}
	e.conversationID = id
	sub.convID = id
	sub.log = sub.log.With("conversation_id", id)
	return nil
}

// appendLocal appends msg to the live list and returns the full history to
// send.
func (e *Engine) appendLocal(sub *submission, msg chat.Message) ([]chat.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != sub.gen {
		return nil, false
	}
	e.messages = append(e.messages, msg)
	return slices.Clone(e.messages), true
}

func (e *Engine) startStreaming(sub *submission) bool {
	e.mu.Lock()
	if e.gen != sub.gen {
		e.mu.Unlock()
		return false
	}
	e.state = StateStreaming
	e.live = &streamState{msg: chat.NewMessage(chat.RoleAssistant, "", nil)}
	e.mu.Unlock()
	e.notify(Event{Type: EventState, State: StateStreaming, ConversationID: sub.convID})
	return true
}

func (e *Engine) applyDelta(sub *submission, token string) (chat.Message, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != sub.gen || e.live == nil {
		return chat.Message{}, false, false
	}
	e.live.content.WriteString(token)
	e.live.deltas++
	return e.live.snapshot(), e.live.deltas == 1, true
}

// commit freezes the assistant message and persists it exactly once.
func (e *Engine) commit(sub *submission, ttft time.Duration) (*Result, error) {
	e.mu.Lock()
	if e.gen != sub.gen || e.live == nil {
		e.mu.Unlock()
		return nil, chat.ErrCanceled
	}
	final := e.live.snapshot()
	deltas := e.live.deltas
	final.CreatedAt = time.Now().UTC()
	e.messages = append(e.messages, final)
	e.live = nil
	e.mu.Unlock()

	e.notify(Event{Type: EventMessage, ConversationID: sub.convID, Message: final})

	// The answer is frozen; a Cancel arriving now must not lose it.
	if err := e.deps.Store.AppendMessage(context.WithoutCancel(sub.ctx), sub.convID, final); err != nil {
		e.warn(sub, chat.PersistenceError("save assistant message", err))
	}

	res := &Result{
		ConversationID: sub.convID,
		Message:        final,
		Metrics:        sub.metrics(ttft, deltas),
		Warnings:       sub.warnings,
	}
	sub.log.Info("exchange completed", "deltas", deltas, "ttft", ttft, "duration", res.Metrics.Duration)
	m := res.Metrics
	e.notify(Event{Type: EventCompleted, ConversationID: sub.convID, Message: final, Metrics: &m})
	return res, nil
}
