package summary

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/search"
)

const systemPrompt = `You summarize phone calls between hotel guests and a voice concierge.
Reply with a single JSON object and nothing else:
{"summary": string, "items": [{"category": string, "description": string, "quantity": number, "location": string}]}
- "summary": two or three sentences for front-desk staff.
- "items": one entry per actionable guest request; empty when there is nothing to do.
- "location": the room number or place the request concerns, if stated.
- "quantity": how many units were requested, 1 when unstated.
Write the summary in %s.`

// buildPrompt renders the system and user messages. labels, when present,
// steer the model toward categories the classifier knows.
func buildPrompt(transcript []domain.TranscriptEntry, locale language.Tag, maxRunes int, labels []string) []*schema.Message {
	lang := "English"
	if locale != language.Und {
		if name := display.English.Languages().Name(locale); name != "" {
			lang = name
		}
	}
	sys := fmt.Sprintf(systemPrompt, lang)
	if len(labels) > 0 {
		known := make([]string, len(labels))
		for i, l := range labels {
			known[i] = fmt.Sprintf("%q (%s)", l, search.DisplayName(l, language.English))
		}
		sys += "\nPrefer one of these categories: " + strings.Join(known, ", ") + "."
	}
	return []*schema.Message{
		schema.SystemMessage(sys),
		schema.UserMessage("Transcript:\n" + boundTranscript(transcript, maxRunes)),
	}
}

// boundTranscript renders transcript as "Speaker: text" lines, keeping the
// most recent turns whose total fits maxRunes. When even the newest turn is
// longer than maxRunes, its tail is kept.
func boundTranscript(transcript []domain.TranscriptEntry, maxRunes int) string {
	lines := make([]string, 0, len(transcript))
	used := 0
	for i := len(transcript) - 1; i >= 0; i-- {
		line := speaker(transcript[i].Role) + ": " + strings.TrimSpace(transcript[i].Content)
		n := utf8.RuneCountInString(line)
		if used+n+1 > maxRunes {
			if len(lines) == 0 {
				r := []rune(line)
				lines = append(lines, string(r[len(r)-maxRunes:]))
			}
			break
		}
		lines = append(lines, line)
		used += n + 1
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func speaker(role string) string {
	if role == domain.RoleAssistant {
		return "Concierge"
	}
	return "Guest"
}

type modelOutput struct {
	Summary string            `json:"summary"`
	Items   []json.RawMessage `json:"items"`
}

// extractJSON returns the outermost {...} span of s, tolerating code fences
// and prose around it.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// parse decodes the model reply. Items that fail to decode or validate are
// dropped; items without a category are classified from their description.
func (g *Generator) parse(raw string) (Result, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return Result{}, ErrMalformed
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	text := strings.TrimSpace(out.Summary)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty summary", ErrMalformed)
	}

	res := Result{Text: text, Source: domain.SummaryFromModel, Items: make([]domain.ServiceRequestItem, 0, len(out.Items))}
	for _, rawItem := range out.Items {
		var it domain.ServiceRequestItem
		if err := json.Unmarshal(rawItem, &it); err != nil {
			res.Dropped++
			continue
		}
		it.Description = strings.TrimSpace(it.Description)
		it.Location = strings.TrimSpace(it.Location)
		if err := g.validate.Struct(it); err != nil {
			res.Dropped++
			continue
		}
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		it.Category = strings.ToLower(strings.TrimSpace(it.Category))
		if it.Category == "" {
			it.Category = g.classify(it.Description)
		}
		res.Items = append(res.Items, it)
	}
	if res.Dropped > 0 {
		itemsDropped.Add(float64(res.Dropped))
		g.log.Info().Int("dropped", res.Dropped).Int("kept", len(res.Items)).Msg("invalid summary items dropped")
	}
	return res, nil
}

func (g *Generator) classify(text string) string {
	if g.classifier == nil {
		return search.Fallback
	}
	label, _ := g.classifier.Classify(text)
	return label
}
