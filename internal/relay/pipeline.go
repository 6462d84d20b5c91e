package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/transcript"
	"github.com/ent0n29/voicerelay/internal/upstream"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type Options struct {
	ChunkWords int
	ChunkDelay time.Duration
	// Passthrough skips markdown normalization and the lexicon.
	Passthrough        bool
	Lexicon            *voice.Lexicon
	DefaultCredentials upstream.Credentials
}

// Turn is one inbound request: the full conversation, oldest first.
type Turn struct {
	ID          string
	Messages    []protocol.ChatMessage
	Credentials upstream.Credentials
}

type Result struct {
	TurnID  string
	Text    string
	Chunks  []string
	Emitted int
	Events  int
	Outcome Outcome
	Trace   []Stage
	// UpstreamErr is the *upstream.StatusError or *upstream.TransportError whose
	// explanation replaced the answer.
	UpstreamErr error
	ParseErr    error
}

// EmitFunc receives one output chunk. Returning an error stops emission.
type EmitFunc func(chunk string) error

// Pipeline drives relay -> parse -> normalize -> rechunk -> emit for each turn.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	client  upstream.Client
	opts    Options
	metrics *observability.Metrics
	store   transcript.Store
	logger  *zap.Logger
}

func New(client upstream.Client, opts Options, metrics *observability.Metrics, store transcript.Store, logger *zap.Logger) *Pipeline {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = voice.DefaultChunkWords
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client:  client,
		opts:    opts,
		metrics: metrics,
		store:   store,
		logger:  logger,
	}
}

// Query is the function-shaped boundary for voice callers: the query is
// appended to history and the speakable answer returned as one string.
func (p *Pipeline) Query(ctx context.Context, query string, history []protocol.ChatMessage, creds upstream.Credentials) (string, error) {
	res, err := p.Collect(ctx, Turn{
		Messages:    protocol.AppendQuery(history, query),
		Credentials: creds,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Collect relays the turn and returns the normalized text and its chunks without emitting them.
func (p *Pipeline) Collect(ctx context.Context, turn Turn) (Result, error) {
	return p.Run(ctx, turn, nil)
}

// Run relays the turn and hands each chunk to emit, pacing them by the
// configured delay. A nil emit skips emission. Only validation failures,
// cancellation and emit errors are returned; upstream failures become the
// answer text.
func (p *Pipeline) Run(ctx context.Context, turn Turn, emit EmitFunc) (Result, error) {
	tr := newTracker()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	res := Result{TurnID: turn.ID}
	finish := func(outcome Outcome, err error) (Result, error) {
		res.Outcome = outcome
		if outcome == OutcomeOK {
			tr.enter(StageDone)
		} else {
			tr.enter(StageFailed)
		}
		res.Trace = tr.trace
		p.metrics.ObserveRelay(string(outcome))
		p.metrics.ObserveStage(observability.StageRelayTotal, tr.elapsed())
		if outcome == OutcomeCancelled {
			p.metrics.ObserveIndicator("cancelled")
		}
		return res, err
	}

	tr.enter(StageValidating)
	creds := turn.Credentials.WithDefaults(p.opts.DefaultCredentials)
	if err := protocol.ValidateMessages(turn.Messages); err != nil {
		return finish(OutcomeInvalid, err)
	}
	if strings.TrimSpace(creds.Token) == "" {
		return finish(OutcomeInvalid, &policy.AuthError{Reason: policy.ErrMissingCredential})
	}

	p.metrics.RelayStarted()
	defer p.metrics.RelayFinished()

	tr.enter(StageRelaying)
	text, err := p.relay(ctx, tr, turn, creds, &res)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			p.logger.Debug("relay cancelled", zap.String("turn_id", turn.ID), zap.Error(err))
			return finish(OutcomeCancelled, err)
		}
		return finish(OutcomeAborted, err)
	}

	res.Text = p.normalize(tr, text)

	tr.enter(StageChunking)
	res.Chunks = voice.Rechunk(res.Text, p.opts.ChunkWords)

	if emit != nil {
		tr.enter(StageEmitting)
		if err := p.emit(ctx, tr, res.Chunks, emit, &res); err != nil {
			if ctx.Err() != nil {
				return finish(OutcomeCancelled, err)
			}
			return finish(OutcomeAborted, err)
		}
	}

	outcome := OutcomeOK
	if res.UpstreamErr != nil {
		outcome = OutcomeUpstreamError
	}
	p.record(ctx, turn, creds, res, outcome)
	return finish(outcome, nil)
}

// relay streams upstream events and concatenates text fragments in arrival order.
func (p *Pipeline) relay(ctx context.Context, tr *tracker, turn Turn, creds upstream.Credentials, res *Result) (string, error) {
	var b strings.Builder
	first := true
	err := p.client.Stream(ctx, protocol.ChatRequest{Messages: turn.Messages}, creds, func(ev protocol.Event) error {
		if first {
			first = false
			p.metrics.ObserveFirstEventLatency(tr.elapsed())
		}
		res.Events++
		p.metrics.ObserveEvent(string(ev.Kind))

		if ev.Err != nil {
			res.UpstreamErr = ev.Err
			p.observeUpstreamError(turn.ID, ev.Err)
			tr.enter(StageFailed)
			b.Reset()
			b.WriteString(ev.Text)
			return nil
		}
		tr.enter(StageParsing)
		if ev.Kind == protocol.KindText {
			b.WriteString(ev.Text)
		}
		return nil
	})
	p.metrics.ObserveStage(observability.StageUpstreamComplete, tr.elapsed())

	var parseErr *protocol.ParseError
	if errors.As(err, &parseErr) {
		res.ParseErr = err
		p.metrics.ObserveParseError()
		p.logger.Warn("upstream stream truncated; keeping recovered text",
			zap.String("turn_id", turn.ID),
			zap.Int("pending_bytes", parseErr.Pending),
		)
		err = nil
	}
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (p *Pipeline) observeUpstreamError(turnID string, err error) {
	class := "other"
	var statusErr *upstream.StatusError
	var transportErr *upstream.TransportError
	switch {
	case errors.As(err, &statusErr):
		class = "status"
	case errors.As(err, &transportErr):
		class = string(transportErr.Class)
	}
	p.metrics.ObserveUpstreamError(class)
	p.logger.Warn("upstream failed; speaking explanation",
		zap.String("turn_id", turnID),
		zap.String("class", class),
		zap.Error(err),
	)
}

func (p *Pipeline) normalize(tr *tracker, text string) string {
	if p.opts.Passthrough {
		return text
	}
	tr.enter(StageNormalizing)
	started := time.Now()
	out := voice.NormalizeMarkdown(text)
	if p.opts.Lexicon != nil {
		out = p.opts.Lexicon.Apply(out)
	}
	p.metrics.ObserveStage(observability.StageNormalize, time.Since(started))
	return out
}

func (p *Pipeline) emit(ctx context.Context, tr *tracker, chunks []string, emit EmitFunc, res *Result) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for i, chunk := range chunks {
		if i > 0 && p.opts.ChunkDelay > 0 {
			if timer == nil {
				timer = time.NewTimer(p.opts.ChunkDelay)
			} else {
				timer.Reset(p.opts.ChunkDelay)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(chunk); err != nil {
			return err
		}
		if i == 0 {
			p.metrics.ObserveStage(observability.StageFirstChunk, tr.elapsed())
		}
		res.Emitted++
		p.metrics.ObserveChunk()
	}
	return nil
}

// record stores the exchange when transcripts are enabled. Failures are logged only.
func (p *Pipeline) record(ctx context.Context, turn Turn, creds upstream.Credentials, res Result, outcome Outcome) {
	if p.store == nil || ctx.Err() != nil {
		return
	}
	question, qRedacted := policy.RedactPII(protocol.LastUserContent(turn.Messages))
	answer, aRedacted := policy.RedactPII(res.Text)
	records := []transcript.TurnRecord{
		{TurnID: turn.ID, UserID: creds.UserID, OrgID: creds.OrgID, Role: string(protocol.RoleUser), Content: question, PIIRedacted: qRedacted},
		{TurnID: turn.ID, UserID: creds.UserID, OrgID: creds.OrgID, Role: string(protocol.RoleAssistant), Content: answer, Outcome: string(outcome), PIIRedacted: aRedacted},
	}
	for _, rec := range records {
		if err := p.store.SaveTurn(ctx, rec); err != nil {
			p.logger.Warn("save transcript failed", zap.String("turn_id", turn.ID), zap.Error(err))
			return
		}
	}
}
