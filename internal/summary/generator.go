// Package summary turns call transcripts into a short synopsis plus the
// structured service-request items staff act on.
//
// The external language model is best effort. Every failure mode (timeout,
// transport error, malformed output, panic) degrades to a local fallback
// built from the guest's own words, so Summarize never returns an error and
// a call always reaches staff.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/search"
)

var (
	// ErrAttemptTimeout marks a model attempt that exceeded Options.Timeout.
	// The underlying call keeps running and its result is discarded.
	ErrAttemptTimeout = errors.New("summary: model attempt timed out")
	// ErrMalformed marks model output that held no usable JSON object.
	ErrMalformed = errors.New("summary: malformed model output")
	// ErrNoModel is reported when the generator was built without a model.
	ErrNoModel = errors.New("summary: no model configured")
)

// ChatModel is the subset of eino's model.BaseChatModel the generator uses.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Options tunes a Generator. Zero values take the defaults noted per field.
type Options struct {
	Timeout            time.Duration // per attempt; default 8s
	Retries            int           // extra attempts after the first; default 1, negative disables
	MinTurns           int           // below this the model is skipped; default 2
	MaxTranscriptRunes int           // prompt transcript bound; default 12000
	FallbackMaxRunes   int           // fallback text bound; default 500
	AbandonAfter       time.Duration // hard ceiling for an abandoned call; default 2m
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 1
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.MinTurns <= 0 {
		o.MinTurns = 2
	}
	if o.MaxTranscriptRunes <= 0 {
		o.MaxTranscriptRunes = 12000
	}
	if o.FallbackMaxRunes <= 0 {
		o.FallbackMaxRunes = 500
	}
	if o.AbandonAfter < o.Timeout {
		o.AbandonAfter = 2 * time.Minute
		if o.AbandonAfter < o.Timeout {
			o.AbandonAfter = o.Timeout
		}
	}
	return o
}

// Result is the outcome of one summarization.
type Result struct {
	Text    string
	Items   []domain.ServiceRequestItem
	Source  string // domain.SummaryFromModel, SummaryFromFallback or SummaryEmpty
	Locale  string
	Dropped int // items rejected by validation
}

// Generator is safe for concurrent use.
type Generator struct {
	model      ChatModel
	classifier search.Classifier
	validate   *validator.Validate
	flight     singleflight.Group
	opts       Options
	log        zerolog.Logger
}

// New builds a Generator. m may be nil, in which case every call takes the
// fallback path; classifier may be nil, in which case items without a
// category are labelled search.Fallback.
func New(m ChatModel, classifier search.Classifier, opts Options, log zerolog.Logger) *Generator {
	return &Generator{
		model:      m,
		classifier: classifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		opts:       opts.withDefaults(),
		log:        log.With().Str("component", "summary").Logger(),
	}
}

// Summarize produces the summary for transcript. Concurrent calls sharing key
// run a single summarization and all receive its result; a caller whose ctx
// ends first gets the fallback instead.
func (g *Generator) Summarize(ctx context.Context, key string, transcript []domain.TranscriptEntry, locale language.Tag) Result {
	if len(transcript) == 0 {
		requestsTotal.WithLabelValues(domain.SummaryEmpty).Inc()
		return Result{Source: domain.SummaryEmpty, Locale: localeString(locale)}
	}

	ch := g.flight.DoChan(key, func() (any, error) {
		return g.run(context.WithoutCancel(ctx), key, transcript, locale), nil
	})
	select {
	case r := <-ch:
		return r.Val.(Result)
	case <-ctx.Done():
		g.log.Warn().Err(ctx.Err()).Str("call_key", key).Msg("caller gave up waiting; using fallback")
		requestsTotal.WithLabelValues(domain.SummaryFromFallback).Inc()
		return g.fallback(transcript, locale)
	}
}

func (g *Generator) run(ctx context.Context, key string, transcript []domain.TranscriptEntry, locale language.Tag) Result {
	ctx, span := otel.Tracer("services/summary").Start(ctx, "Summarize")
	defer span.End()
	span.SetAttributes(attribute.String("call.key", key), attribute.Int("transcript.turns", len(transcript)))

	if len(transcript) < g.opts.MinTurns || g.model == nil {
		reason := "too few turns"
		if g.model == nil {
			reason = ErrNoModel.Error()
		}
		g.log.Debug().Str("call_key", key).Str("reason", reason).Msg("skipping model")
		requestsTotal.WithLabelValues(domain.SummaryFromFallback).Inc()
		span.SetAttributes(attribute.String("summary.source", domain.SummaryFromFallback))
		return g.fallback(transcript, locale)
	}

	var labels []string
	if g.classifier != nil {
		labels = g.classifier.Labels()
	}
	msgs := buildPrompt(transcript, locale, g.opts.MaxTranscriptRunes, labels)

	var lastErr error
	for attempt := 0; attempt <= g.opts.Retries; attempt++ {
		raw, err := g.attempt(ctx, msgs)
		if err == nil {
			var res Result
			res, err = g.parse(raw)
			if err == nil {
				res.Locale = localeString(locale)
				requestsTotal.WithLabelValues(domain.SummaryFromModel).Inc()
				span.SetAttributes(attribute.String("summary.source", domain.SummaryFromModel))
				return res
			}
		}
		lastErr = err
		g.log.Warn().Err(err).Str("call_key", key).Int("attempt", attempt+1).Msg("summary attempt failed")
	}

	g.log.Warn().Err(lastErr).Str("call_key", key).Msg("summary model unavailable; using fallback")
	span.RecordError(lastErr)
	span.SetAttributes(attribute.String("summary.source", domain.SummaryFromFallback))
	requestsTotal.WithLabelValues(domain.SummaryFromFallback).Inc()
	return g.fallback(transcript, locale)
}

type attemptResult struct {
	content string
	err     error
}

// attempt runs one model call bounded by Options.Timeout. On timeout the
// goroutine is left to finish under the AbandonAfter ceiling; its buffered
// result is dropped.
func (g *Generator) attempt(ctx context.Context, msgs []*schema.Message) (string, error) {
	ch := make(chan attemptResult, 1)
	callCtx, cancel := context.WithTimeout(ctx, g.opts.AbandonAfter)

	go func() {
		defer cancel()
		start := time.Now()
		defer func() {
			modelLatency.Observe(time.Since(start).Seconds())
			if r := recover(); r != nil {
				ch <- attemptResult{err: fmt.Errorf("summary: model panic: %v", r)}
			}
		}()
		resp, err := g.model.Generate(callCtx, msgs, model.WithTemperature(0))
		if err != nil {
			ch <- attemptResult{err: err}
			return
		}
		if resp == nil {
			ch <- attemptResult{err: ErrMalformed}
			return
		}
		ch <- attemptResult{content: resp.Content}
	}()

	timer := time.NewTimer(g.opts.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.content, r.err
	case <-timer.C:
		abandonedTotal.Inc()
		return "", ErrAttemptTimeout
	}
}

func localeString(t language.Tag) string {
	if t == language.Und {
		return ""
	}
	return t.String()
}
