// Package search provides a small, deterministic, concurrency-safe keyword
// classifier used to assign a service category to extracted request items
// that arrived without one.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options (Option pattern)
//   - Unicode-aware tokenization with stop-word removal and naive plural folding
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and tie-breaking
//
// Each category owns a set of short keyword phrases. Scoring uses Jaccard
// similarity between the query token set and each phrase's token set,
// score = |Q ∩ P| / |Q ∪ P|, and a category scores as its best phrase.
package search

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fallback is the label returned when no category clears the threshold.
const Fallback = "general"

// Result is a ranked category with its similarity score and the phrase that
// produced it.
type Result struct {
	Label  string
	Phrase string
	Score  float64
}

// Classifier is the minimal interface implemented by category indices.
type Classifier interface {
	// Classify returns the best label for text, or Fallback with a zero score.
	Classify(text string) (label string, score float64)
	// TopK returns up to k labels ordered by descending score.
	TopK(text string, k int) []Result
	// Labels lists the known labels in catalog order.
	Labels() []string
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	threshold float64
	stopwords map[string]struct{}
}

func defaultConfig() config {
	return config{
		threshold: 0.2,
		stopwords: toSet(defaultStopwords),
	}
}

// WithThreshold sets the minimum score Classify accepts. Values outside
// (0, 1] are ignored.
func WithThreshold(v float64) Option {
	return func(c *config) {
		if v > 0 && v <= 1 {
			c.threshold = v
		}
	}
}

// WithStopwords replaces the default stop-word list.
func WithStopwords(words []string) Option {
	return func(c *config) {
		c.stopwords = toSet(words)
	}
}

var defaultStopwords = []string{
	"a", "an", "the", "to", "for", "of", "and", "or", "in", "on", "at", "my", "our",
	"i", "we", "me", "us", "you", "can", "could", "would", "please", "some", "any",
	"need", "needs", "want", "like", "get", "bring", "send", "room", "is", "it",
	"be", "with", "more", "extra", "another", "this", "that",
}

// ----------------------------------------------------------------------------
// Implementation

type phrase struct {
	label  string
	text   string
	tokens map[string]struct{}
}

type index struct {
	cfg     config
	labels  []string
	order   map[string]int
	phrases []phrase
}

// New builds a Classifier from c.
func New(c Catalog, opts ...Option) Classifier {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	idx := &index{cfg: cfg, order: make(map[string]int)}
	for _, cat := range c {
		label := normalizeLabel(cat.Label)
		if label == "" {
			continue
		}
		if _, seen := idx.order[label]; !seen {
			idx.order[label] = len(idx.labels)
			idx.labels = append(idx.labels, label)
		}
		for _, p := range cat.Phrases {
			p = strings.TrimSpace(normalizeWhitespace(p))
			toks := tokenize(p, cfg.stopwords)
			if len(toks) == 0 {
				continue
			}
			idx.phrases = append(idx.phrases, phrase{label: label, text: p, tokens: toks})
		}
	}
	return idx
}

func (i *index) Labels() []string {
	out := make([]string, len(i.labels))
	copy(out, i.labels)
	return out
}

func (i *index) Classify(text string) (string, float64) {
	top := i.TopK(text, 1)
	if len(top) == 0 || top[0].Score < i.cfg.threshold {
		return Fallback, 0
	}
	return top[0].Label, top[0].Score
}

func (i *index) TopK(text string, k int) []Result {
	if len(i.phrases) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	q := tokenize(text, i.cfg.stopwords)
	if len(q) == 0 {
		return nil
	}

	best := make(map[string]Result)
	for _, p := range i.phrases {
		over := overlap(q, p.tokens)
		if over == 0 {
			continue
		}
		union := float64(len(q) + len(p.tokens) - over)
		score := float64(over) / union
		if cur, ok := best[p.label]; !ok || score > cur.Score {
			best[p.label] = Result{Label: p.label, Phrase: p.text, Score: score}
		}
	}
	if len(best) == 0 {
		return nil
	}

	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return i.order[out[a].Label] < i.order[out[b].Label]
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// DisplayName title-cases a label for staff-facing views ("room service" ->
// "Room Service").
func DisplayName(label string, tag language.Tag) string {
	if tag == language.Und {
		tag = language.English
	}
	return cases.Title(tag).String(strings.ReplaceAll(label, "_", " "))
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[fold(w)] = struct{}{}
	}
	return out
}

// fold strips a trailing plural "s" so "towels" matches "towel".
func fold(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
