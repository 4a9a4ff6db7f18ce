package summary

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/tbourn/go-concierge-backend/internal/domain"
)

// fallback builds a summary from the guest's own lines without any external
// call. It carries no items, which flags the call for manual review.
func (g *Generator) fallback(transcript []domain.TranscriptEntry, locale language.Tag) (res Result) {
	res = Result{Source: domain.SummaryFromFallback, Locale: localeString(locale)}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("fallback summary panicked")
			res = Result{Source: domain.SummaryFromFallback, Locale: localeString(locale)}
		}
	}()
	res.Text = FallbackText(transcript, g.opts.FallbackMaxRunes)
	return res
}

// FallbackText joins the caller-role lines of transcript with newlines and
// truncates the result to maxRunes, ending with an ellipsis when cut.
func FallbackText(transcript []domain.TranscriptEntry, maxRunes int) string {
	parts := make([]string, 0, len(transcript))
	for _, e := range transcript {
		if e.Role != domain.RoleCaller {
			continue
		}
		if c := strings.TrimSpace(e.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return truncateRunes(strings.Join(parts, "\n"), maxRunes)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:max-1]), " \n") + "…"
}
