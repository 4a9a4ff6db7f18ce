package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/search"
)

// fakeModel replies from a script; each call consumes the next step.
type fakeModel struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (*schema.Message, error)
	calls int32
	last  []*schema.Message
}

func (f *fakeModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.last = in
	step := f.steps[len(f.steps)-1]
	if int(n) <= len(f.steps) {
		step = f.steps[n-1]
	}
	f.mu.Unlock()
	return step(ctx)
}

func reply(s string) func(context.Context) (*schema.Message, error) {
	return func(context.Context) (*schema.Message, error) { return schema.AssistantMessage(s, nil), nil }
}

func fail(err error) func(context.Context) (*schema.Message, error) {
	return func(context.Context) (*schema.Message, error) { return nil, err }
}

func sleepThen(d time.Duration, s string) func(context.Context) (*schema.Message, error) {
	return func(context.Context) (*schema.Message, error) {
		time.Sleep(d)
		return schema.AssistantMessage(s, nil), nil
	}
}

func turns(lines ...string) []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(lines))
	for i, l := range lines {
		role := domain.RoleCaller
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		out[i] = domain.TranscriptEntry{Seq: i + 1, Role: role, Content: l}
	}
	return out
}

var towelCall = turns(
	"Hi, this is room 204.",
	"Hello, how can I help?",
	"Could I get two extra towels?",
	"Of course, they are on the way.",
)

const goodReply = "Sure! Here is the JSON:\n```json\n" +
	`{"summary":"Room 204 asked for two towels.","items":[{"category":"","description":"Two towels","quantity":2,"location":"204"}]}` +
	"\n```"

func newGen(m ChatModel, opts Options) *Generator {
	return New(m, search.New(search.DefaultCatalog()), opts, zerolog.Nop())
}

func TestSummarize_EmptyTranscript_NoExternalCall(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(goodReply)}}
	res := newGen(m, Options{}).Summarize(context.Background(), "k", nil, language.English)

	assert.Equal(t, domain.SummaryEmpty, res.Source)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Items)
	assert.EqualValues(t, 0, atomic.LoadInt32(&m.calls))
}

func TestSummarize_ModelSuccess_ParsesFencedJSONAndClassifies(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(goodReply)}}
	res := newGen(m, Options{}).Summarize(context.Background(), "t1:call-1", towelCall, language.English)

	require.Equal(t, domain.SummaryFromModel, res.Source)
	assert.Equal(t, "Room 204 asked for two towels.", res.Text)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "housekeeping", res.Items[0].Category, "missing category is classified")
	assert.Equal(t, 2, res.Items[0].Quantity)
	assert.Equal(t, "204", res.Items[0].Location)
	assert.Equal(t, "en", res.Locale)
}

func TestSummarize_InvalidItemsDropped(t *testing.T) {
	body := `{"summary":"Several asks.","items":[` +
		`{"description":"","quantity":1},` +
		`{"description":"Late checkout","category":"Front Desk"},` +
		`{"description":"bad qty","quantity":-3},` +
		`"not an object"]}`
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(body)}}
	res := newGen(m, Options{}).Summarize(context.Background(), "k", towelCall, language.English)

	require.Equal(t, domain.SummaryFromModel, res.Source)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "front desk", res.Items[0].Category)
	assert.Equal(t, 1, res.Items[0].Quantity, "zero quantity defaults to one")
	assert.Equal(t, 3, res.Dropped)
}

func TestSummarize_RetryThenSuccess(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){
		fail(errors.New("503")),
		reply(goodReply),
	}}
	res := newGen(m, Options{}).Summarize(context.Background(), "k", towelCall, language.English)
	assert.Equal(t, domain.SummaryFromModel, res.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&m.calls))
}

func TestSummarize_FailuresFallBackWithCallerLines(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){fail(errors.New("down"))}}
	res := newGen(m, Options{}).Summarize(context.Background(), "k", towelCall, language.English)

	assert.Equal(t, domain.SummaryFromFallback, res.Source)
	assert.Equal(t, "Hi, this is room 204.\nCould I get two extra towels?", res.Text)
	assert.Empty(t, res.Items)
	assert.EqualValues(t, 2, atomic.LoadInt32(&m.calls), "one retry then fallback")
}

func TestSummarize_MalformedOutputFallsBack(t *testing.T) {
	for _, raw := range []string{"no json here", `{"summary": }`, `{"summary":"","items":[]}`} {
		m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(raw)}}
		res := newGen(m, Options{Retries: -1}).Summarize(context.Background(), "k", towelCall, language.English)
		assert.Equal(t, domain.SummaryFromFallback, res.Source, "raw=%q", raw)
	}
}

func TestSummarize_TimeoutAbandonsAttempt(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){sleepThen(300*time.Millisecond, goodReply)}}
	g := newGen(m, Options{Timeout: 20 * time.Millisecond, Retries: -1})

	start := time.Now()
	res := g.Summarize(context.Background(), "k", towelCall, language.English)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "did not wait for the slow call")
	assert.Equal(t, domain.SummaryFromFallback, res.Source)
}

func TestSummarize_PanickingModelFallsBack(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){
		func(context.Context) (*schema.Message, error) { panic("sdk bug") },
	}}
	res := newGen(m, Options{Retries: -1}).Summarize(context.Background(), "k", towelCall, language.English)
	assert.Equal(t, domain.SummaryFromFallback, res.Source)
}

func TestSummarize_BelowMinTurnsSkipsModel(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(goodReply)}}
	res := newGen(m, Options{}).Summarize(context.Background(), "k", turns("Towels to 204 please"), language.English)
	assert.Equal(t, domain.SummaryFromFallback, res.Source)
	assert.Equal(t, "Towels to 204 please", res.Text)
	assert.EqualValues(t, 0, atomic.LoadInt32(&m.calls))
}

func TestSummarize_NilModelAlwaysFallsBack(t *testing.T) {
	res := newGen(nil, Options{}).Summarize(context.Background(), "k", towelCall, language.Und)
	assert.Equal(t, domain.SummaryFromFallback, res.Source)
	assert.Empty(t, res.Locale)
}

func TestSummarize_SingleflightSharesResult(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){sleepThen(50*time.Millisecond, goodReply)}}
	g := newGen(m, Options{})

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.Summarize(context.Background(), "t1:call-1", towelCall, language.English)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&m.calls))
	for _, r := range results {
		assert.Equal(t, domain.SummaryFromModel, r.Source)
	}
}

func TestSummarize_CallerCancellationGetsFallback(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){sleepThen(200*time.Millisecond, goodReply)}}
	g := newGen(m, Options{Timeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := g.Summarize(ctx, "k", towelCall, language.English)
	assert.Equal(t, domain.SummaryFromFallback, res.Source)
}

func TestPrompt_LanguageAndBound(t *testing.T) {
	m := &fakeModel{steps: []func(context.Context) (*schema.Message, error){reply(goodReply)}}
	long := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		long = append(long, strings.Repeat("x", 90))
	}
	long = append(long, "final guest words")
	g := newGen(m, Options{MaxTranscriptRunes: 500})
	g.Summarize(context.Background(), "k", turns(long...), language.Spanish)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.last, 2)
	assert.Contains(t, m.last[0].Content, "Spanish")
	assert.Contains(t, m.last[0].Content, `"room service" (Room Service)`)
	user := m.last[1].Content
	assert.LessOrEqual(t, len([]rune(strings.TrimPrefix(user, "Transcript:\n"))), 500)
	assert.True(t, strings.HasSuffix(user, "final guest words"), "most recent turns are kept")
}
