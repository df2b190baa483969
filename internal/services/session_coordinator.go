package services

import (
	"companion-backend/internal/metrics"
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"companion-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrQueueFull is returned when a user already has the maximum number of pending turns.
	ErrQueueFull = errors.New("too many pending messages for this conversation")
	// ErrCoordinatorClosed is returned for submissions after shutdown began.
	ErrCoordinatorClosed = errors.New("session coordinator is shutting down")
)

// Error texts broadcast on a user's channel.
const (
	turnFailedMessage          = "Failed to process message"
	transcriptionFailedMessage = "Failed to transcribe audio"
)

// CompletionGateway produces the next assistant reply for a conversation.
// msgs is never empty and always starts with the persona preamble.
type CompletionGateway interface {
	Complete(ctx context.Context, msgs []models.Message) (string, error)
}

// SpeechGateway turns text into a playable audio artifact.
type SpeechGateway interface {
	Synthesize(ctx context.Context, text, voiceID string) (models.AudioArtifact, error)
}

// TranscriptionGateway turns recorded audio into text.
type TranscriptionGateway interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Publisher fans an event out to every subscriber of a user channel.
// It returns the number of subscribers the event was handed to.
type Publisher interface {
	Publish(userID string, ev models.OutboundEvent) int
}

// ChannelState is the turn state of one user channel.
type ChannelState string

const (
	StateIdle          ChannelState = "idle"
	StateAwaitingReply ChannelState = "awaiting_reply"
)

// CoordinatorConfig bounds the work a coordinator does per turn.
type CoordinatorConfig struct {
	CompletionTimeout    time.Duration
	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	ArchiveTimeout       time.Duration
	CompletionRetries    int           // Extra attempts for retryable completion failures
	RetryBackoff         time.Duration // Base delay of the exponential retry backoff
	SpeakReplies         bool          // Synthesize every reply, not only when a request asks for it
	MaxHistory           int           // Messages hydrated from the archive for a new conversation
	MaxPendingTurns      int           // Per-user queue bound; 0 is unbounded
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = 30 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 60 * time.Second
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = 60 * time.Second
	}
	if c.ArchiveTimeout <= 0 {
		c.ArchiveTimeout = 5 * time.Second
	}
	if c.CompletionRetries < 0 {
		c.CompletionRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = store.DefaultMaxHistory
	}
	return c
}

// CoordinatorDependencies holds the collaborators of a SessionCoordinator.
// Speech, Transcription, Archive and Metrics are optional.
type CoordinatorDependencies struct {
	Store         store.ConversationStore
	Personas      *persona.Registry
	Completion    CompletionGateway
	Speech        SpeechGateway
	Transcription TranscriptionGateway
	Publisher     Publisher
	Archive       store.Archive
	Metrics       *metrics.Metrics
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	UserMessage models.Message
	Reply       models.Message
	Audio       *models.AudioArtifact // Nil when speech was not requested or failed
	Err         error
}

// TurnHandle lets a synchronous caller wait for a queued turn.
type TurnHandle struct {
	t *turn
}

// Wait blocks until the turn resolves or ctx is done.
// Abandoning the wait does not cancel the turn.
func (h *TurnHandle) Wait(ctx context.Context) (TurnResult, error) {
	select {
	case <-h.t.done:
		return h.t.result, h.t.result.Err
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
}

// SessionCoordinator owns the per-user turn pipeline: it records user messages,
// asks the completion gateway for replies, optionally synthesizes speech and
// publishes every step to the user's channel. Turns of one user run strictly
// one at a time in submission order; different users proceed in parallel.
type SessionCoordinator struct {
	store         store.ConversationStore
	personas      *persona.Registry
	completion    CompletionGateway
	speech        SpeechGateway
	transcription TranscriptionGateway
	publisher     Publisher
	archive       store.Archive
	metrics       *metrics.Metrics
	cfg           CoordinatorConfig

	// Turns run on this context so a disconnecting client never cancels them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channelQueue
	closed   bool
}

// NewSessionCoordinator creates a coordinator. Store, Personas, Completion and
// Publisher are required.
func NewSessionCoordinator(deps CoordinatorDependencies, cfg CoordinatorConfig) (*SessionCoordinator, error) {
	if deps.Store == nil || deps.Personas == nil || deps.Completion == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("session coordinator requires a store, personas, a completion gateway and a publisher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionCoordinator{
		store:         deps.Store,
		personas:      deps.Personas,
		completion:    deps.Completion,
		speech:        deps.Speech,
		transcription: deps.Transcription,
		publisher:     deps.Publisher,
		archive:       deps.Archive,
		metrics:       deps.Metrics,
		cfg:           cfg.withDefaults(),
		ctx:           ctx,
		cancel:        cancel,
		channels:      make(map[string]*channelQueue),
	}, nil
}

// Submit validates a chat request and queues it as a turn on the user's channel.
// Validation errors are returned before any state changes.
func (c *SessionCoordinator) Submit(ctx context.Context, req models.ChatRequest) (*TurnHandle, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := c.personas.Resolve(req.Persona)
	if err != nil {
		return nil, err
	}

	t := newTurn(req, p, req.Speak || c.cfg.SpeakReplies)
	if err := c.enqueue(req.UserID, t, true); err != nil {
		return nil, err
	}
	return &TurnHandle{t: t}, nil
}

// enqueue appends t to the user's channel and starts a drain goroutine if none runs.
// Only bounded items count against MaxPendingTurns.
func (c *SessionCoordinator) enqueue(userID string, t *turn, bounded bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}

	q, ok := c.channels[userID]
	if !ok {
		q = newChannelQueue(userID)
		c.channels[userID] = q
	}
	if bounded && c.cfg.MaxPendingTurns > 0 && q.Size() >= c.cfg.MaxPendingTurns {
		log.Printf("WARN [SessionCoordinator]: Queue full for user %s (%d pending)", userID, q.Size())
		return ErrQueueFull
	}

	q.Enqueue(t)
	c.metrics.AddQueued(1)

	if !q.running {
		q.running = true
		c.wg.Add(1)
		go c.drain(q)
	}
	return nil
}

// SubmitVoice transcribes a recording and submits the text as a chat turn.
// The transcript is returned alongside the handle.
func (c *SessionCoordinator) SubmitVoice(ctx context.Context, req models.VoiceRequest) (string, *TurnHandle, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if err := req.Validate(); err != nil {
		return "", nil, err
	}

	text, err := c.Transcribe(ctx, req.Audio, req.Filename)
	if err != nil {
		c.publish(req.UserID, models.ErrorEvent(req.UserID, transcriptionFailedMessage))
		return "", nil, err
	}

	handle, err := c.Submit(ctx, models.ChatRequest{
		Message: text,
		UserID:  req.UserID,
		Persona: req.Persona,
		Speak:   req.Speak,
	})
	if err != nil {
		return text, nil, err
	}
	return text, handle, nil
}

// Transcribe runs the transcription gateway with a bounded wait.
// It does not touch any conversation.
func (c *SessionCoordinator) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", models.NewValidationError("audio", "Audio file is required")
	}
	if c.transcription == nil {
		return "", &models.TranscriptionError{Provider: "none", Err: models.ErrProviderNotConfigured}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TranscriptionTimeout)
	defer cancel()

	start := time.Now()
	text, err := c.transcription.Transcribe(callCtx, audio, filename)
	c.metrics.RecordGateway("transcription", start, err)
	if err != nil {
		var te *models.TranscriptionError
		if !errors.As(err, &te) {
			err = &models.TranscriptionError{Provider: "unknown", Err: err}
		}
		log.Printf("ERROR [SessionCoordinator]: Transcription failed: %v", err)
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &models.TranscriptionError{Provider: "unknown", InvalidAudio: true, Err: fmt.Errorf("no speech recognized")}
	}
	return text, nil
}

// Synthesize runs the speech gateway with a bounded wait, outside any turn.
func (c *SessionCoordinator) Synthesize(ctx context.Context, text, personaName string) (models.AudioArtifact, error) {
	if strings.TrimSpace(text) == "" {
		return models.AudioArtifact{}, models.NewValidationError("text", "Text is required")
	}
	if c.speech == nil {
		return models.AudioArtifact{}, &models.SynthesisError{Provider: "none", Err: models.ErrProviderNotConfigured}
	}
	p, err := c.personas.Resolve(personaName)
	if err != nil {
		return models.AudioArtifact{}, err
	}
	return c.synthesize(ctx, text, p.VoiceID)
}

// History returns the user's messages without the persona preamble.
func (c *SessionCoordinator) History(userID string) []models.Message {
	return c.store.History(userID)
}

// Reset forgets a user's conversation, including its archived copy.
// It is queued behind the user's pending turns, so a turn in flight finishes
// and is recorded before the conversation is dropped. It reports whether an
// in-memory conversation existed. If ctx ends first the reset still happens.
func (c *SessionCoordinator) Reset(ctx context.Context, userID string) (bool, error) {
	t := newResetTurn(userID)
	if err := c.enqueue(userID, t, false); err != nil {
		return false, err
	}

	select {
	case <-t.done:
		return t.existed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// EvictIdle drops conversations untouched for longer than ttl.
// Users with queued or in-flight turns are skipped.
func (c *SessionCoordinator) EvictIdle(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.CleanupIdle(ttl, func(userID string) bool {
		_, busy := c.channels[userID]
		return busy
	})
}

// State reports whether the user's channel has a turn in flight or queued.
func (c *SessionCoordinator) State(userID string) ChannelState {
	c.mu.Lock()
	q, ok := c.channels[userID]
	c.mu.Unlock()

	if ok && !q.IsEmpty() {
		return StateAwaitingReply
	}
	return StateIdle
}

// Close stops accepting turns and waits for queued ones to finish.
// If ctx expires first, in-flight gateway calls are cancelled.
func (c *SessionCoordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		log.Printf("WARN [SessionCoordinator]: Shutdown deadline reached, cancelling in-flight turns")
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// drain processes a channel's turns until its queue is empty.
func (c *SessionCoordinator) drain(q *channelQueue) {
	defer c.wg.Done()

	for {
		t := q.Dequeue()
		if t == nil {
			c.mu.Lock()
			if q.IsEmpty() {
				q.running = false
				delete(c.channels, q.userID)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			continue
		}

		c.metrics.AddQueued(-1)
		var res TurnResult
		if t.reset {
			c.runReset(t)
		} else {
			res = c.runTurn(t)
		}
		q.Complete()
		t.finish(res)
	}
}

// runTurn executes one turn: Idle -> AwaitingReply -> Idle.
func (c *SessionCoordinator) runTurn(t *turn) TurnResult {
	userID := t.req.UserID
	if wait := time.Since(t.enqueuedAt); wait > time.Second {
		log.Printf("[SessionCoordinator] Turn for user %s waited %v in queue", userID, wait.Round(time.Millisecond))
	}

	conv, created := c.store.GetOrCreate(userID, t.persona.Name, persona.BuildPreamble(t.persona))
	if created {
		c.hydrate(userID)
	}

	userMsg := models.NewMessage(models.RoleUser, t.req.Message)
	if err := c.store.Append(userID, userMsg); err != nil {
		log.Printf("ERROR [SessionCoordinator]: Failed to record message for user %s: %v", userID, err)
		c.publish(userID, models.ErrorEvent(userID, turnFailedMessage))
		c.metrics.RecordTurn("store_error")
		return TurnResult{Err: err}
	}
	c.publish(userID, models.MessageReceivedEvent(userID, userMsg))

	snapshot, err := c.store.Get(userID)
	if err != nil {
		return c.failTurn(userID, userMsg, fmt.Errorf("failed to read conversation: %w", err), "store_error")
	}

	replyText, err := c.complete(snapshot.Messages)
	if err != nil {
		return c.failTurn(userID, userMsg, err, "completion_error")
	}

	reply := models.NewMessage(models.RoleAssistant, replyText)
	if err := c.store.Append(userID, reply); err != nil {
		return c.failTurn(userID, userMsg, fmt.Errorf("failed to record reply: %w", err), "store_error")
	}
	if _, err := c.store.Trim(userID); err != nil {
		log.Printf("ERROR [SessionCoordinator]: Failed to trim conversation for user %s: %v", userID, err)
	}
	c.archiveTurn(userID, conv.Persona, userMsg, reply)
	c.publish(userID, models.MessageReceivedEvent(userID, reply))

	res := TurnResult{UserMessage: userMsg, Reply: reply}
	c.metrics.RecordTurn("ok")

	if !t.speak || c.speech == nil {
		return res
	}

	voice := t.persona.VoiceID
	if p, err := c.personas.Get(conv.Persona); err == nil {
		voice = p.VoiceID
	}
	artifact, err := c.synthesize(c.ctx, reply.Content, voice)
	if err != nil {
		// The reply is already delivered; speech degrades silently.
		log.Printf("WARN [SessionCoordinator]: Speech synthesis failed for user %s: %v", userID, err)
		return res
	}
	res.Audio = &artifact
	c.publish(userID, models.AudioReadyEvent(userID, artifact))

	return res
}

// runReset drops the conversation from memory and the archive.
func (c *SessionCoordinator) runReset(t *turn) {
	userID := t.req.UserID
	t.existed = c.store.Delete(userID)

	if c.archive != nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ArchiveTimeout)
		defer cancel()
		if err := c.archive.DeleteConversation(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("ERROR [SessionCoordinator]: Failed to delete archived conversation for user %s: %v", userID, err)
		}
	}

	if t.existed {
		log.Printf("[SessionCoordinator] Conversation reset for user %s", userID)
	}
}

// failTurn withdraws the turn's user message so a failed turn leaves history unchanged.
// outcome labels the turn metric.
func (c *SessionCoordinator) failTurn(userID string, userMsg models.Message, cause error, outcome string) TurnResult {
	if err := c.store.RemoveLast(userID, userMsg.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("ERROR [SessionCoordinator]: Failed to roll back message for user %s: %v", userID, err)
	}

	log.Printf("ERROR [SessionCoordinator]: Turn failed for user %s: %v", userID, cause)
	c.publish(userID, models.ErrorEvent(userID, turnFailedMessage))
	c.metrics.RecordTurn(outcome)

	return TurnResult{UserMessage: userMsg, Err: cause}
}

// complete calls the completion gateway, retrying retryable failures with backoff.
// Every failure, timeouts included, comes back as a CompletionError.
func (c *SessionCoordinator) complete(msgs []models.Message) (string, error) {
	var reply string

	backoff := retry.WithMaxRetries(uint64(c.cfg.CompletionRetries), retry.NewExponential(c.cfg.RetryBackoff))
	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CompletionTimeout)
		defer cancel()

		start := time.Now()
		out, err := c.completion.Complete(callCtx, msgs)
		c.metrics.RecordGateway("completion", start, err)
		if err != nil {
			var ce *models.CompletionError
			if errors.As(err, &ce) && ce.Retryable {
				log.Printf("WARN [SessionCoordinator]: Retryable completion failure: %v", err)
				return retry.RetryableError(err)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return &models.CompletionError{Provider: "unknown", Err: fmt.Errorf("empty reply")}
		}

		reply = out
		return nil
	})
	if err != nil {
		var ce *models.CompletionError
		if !errors.As(err, &ce) {
			err = &models.CompletionError{Provider: "unknown", Err: err}
		}
		return "", err
	}
	return reply, nil
}

func (c *SessionCoordinator) synthesize(ctx context.Context, text, voiceID string) (models.AudioArtifact, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	artifact, err := c.speech.Synthesize(callCtx, text, voiceID)
	c.metrics.RecordGateway("synthesis", start, err)
	if err != nil {
		var se *models.SynthesisError
		if !errors.As(err, &se) {
			err = &models.SynthesisError{Provider: "unknown", Err: err}
		}
		return models.AudioArtifact{}, err
	}
	return artifact, nil
}

// hydrate seeds a freshly created conversation from the archive.
func (c *SessionCoordinator) hydrate(userID string) {
	if c.archive == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ArchiveTimeout)
	defer cancel()

	msgs, err := c.archive.LoadRecent(ctx, userID, c.cfg.MaxHistory)
	if err != nil {
		log.Printf("WARN [SessionCoordinator]: Failed to load archived history for user %s: %v", userID, err)
		return
	}

	restored := 0
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		if err := c.store.Append(userID, msg); err != nil {
			log.Printf("WARN [SessionCoordinator]: Failed to restore message for user %s: %v", userID, err)
			return
		}
		restored++
	}
	if restored > 0 {
		log.Printf("[SessionCoordinator] Restored %d archived messages for user %s", restored, userID)
	}
}

// archiveTurn copies a completed turn to the archive. Failures are logged only.
func (c *SessionCoordinator) archiveTurn(userID, personaName string, msgs ...models.Message) {
	if c.archive == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ArchiveTimeout)
	defer cancel()

	if err := c.archive.SaveMessages(ctx, userID, personaName, msgs); err != nil {
		log.Printf("ERROR [SessionCoordinator]: Failed to archive turn for user %s: %v", userID, err)
	}
}

func (c *SessionCoordinator) publish(userID string, ev models.OutboundEvent) {
	delivered := c.publisher.Publish(userID, ev)
	c.metrics.RecordEvent(string(ev.Type))
	if delivered == 0 {
		log.Printf("[SessionCoordinator] No subscribers for user %s, %s event not delivered", userID, ev.Type)
	}
}
