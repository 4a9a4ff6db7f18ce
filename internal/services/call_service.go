// Package services – CallService
//
// CallService ingests voice platform events. Turns may arrive one at a time
// while the call is live (RecordTurn) and are always delivered again in the
// end-of-call event (EndCall); (call, seq) uniqueness makes re-delivery
// harmless. EndCall finalizes the call, summarizes the transcript, persists
// the summary and materializes the extracted requests.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/summary"
)

// CategoryManualReview labels the request raised when no items could be
// extracted from a call and staff need to read the summary.
const CategoryManualReview = "manual_review"

// Summarizer produces call summaries. It never fails.
type Summarizer interface {
	Summarize(ctx context.Context, key string, transcript []domain.TranscriptEntry, locale language.Tag) summary.Result
}

// Turn is one line of dialogue as delivered by the voice platform.
type Turn struct {
	Seq      int       `json:"seq"`
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	SpokenAt time.Time `json:"spoken_at"`
}

// EndCallInput is the end-of-call event.
type EndCallInput struct {
	ExternalID  string
	StartedAt   time.Time
	EndedAt     time.Time
	DurationSec int
	Locale      string
	Turns       []Turn
}

// EndCallResult reports what EndCall did. Duplicate is set when the call had
// already been processed; nothing is summarized or materialized again.
// Resumed is set when a repeated end event finished an earlier partial run;
// Requests then includes the ones that run had written.
type EndCallResult struct {
	Call      *domain.Call
	Summary   *domain.Summary
	Requests  []domain.ServiceRequest
	Duplicate bool
	Resumed   bool
}

// CallSummarizedPayload is the payload of call.summarized events.
type CallSummarizedPayload struct {
	CallID     string   `json:"callId"`
	ExternalID string   `json:"externalId"`
	Source     string   `json:"source"`
	Items      int      `json:"items"`
	RequestIDs []string `json:"requestIds"`
}

// CallService coordinates call ingest.
type CallService struct {
	DB            *gorm.DB
	Summarizer    Summarizer
	Materializer  *Materializer
	Bus           *realtime.Bus
	Log           zerolog.Logger
	DefaultLocale language.Tag
}

// RecordTurn stores a single live turn, creating the call on first contact.
// It returns the call and whether the turn was new.
func (s *CallService) RecordTurn(ctx context.Context, tenantID, externalID string, turn Turn) (*domain.Call, bool, error) {
	tr := otel.Tracer("services/CallService")
	ctx, span := tr.Start(ctx, "RecordTurn",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("call.external_id", externalID),
			attribute.Int("turn.seq", turn.Seq),
		),
	)
	defer span.End()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, fmt.Errorf("%w: call id is required", ErrValidation)
	}
	role, ok := normalizeRole(turn.Role)
	if !ok || strings.TrimSpace(turn.Content) == "" {
		return nil, false, fmt.Errorf("%w: turn needs a known role and content", ErrValidation)
	}
	at := turn.SpokenAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	call, err := repo.UpsertCall(ctx, s.DB, tenantID, externalID, at)
	if err != nil {
		return nil, false, err
	}
	if call.Finalized() {
		return call, false, ErrCallFinalized
	}

	seq := turn.Seq
	if seq <= 0 {
		if seq, err = repo.NextSeq(ctx, s.DB, tenantID, call.ID); err != nil {
			return nil, false, err
		}
	}
	n, err := repo.AppendTranscript(ctx, s.DB, tenantID, call.ID, []domain.TranscriptEntry{
		entry(tenantID, call.ID, seq, role, turn.Content, at),
	})
	if err != nil {
		return nil, false, err
	}
	return call, n == 1, nil
}

// EndCall runs the pipeline for an end-of-call event. A non-nil error with a
// non-nil result means some requests could not be materialized.
func (s *CallService) EndCall(ctx context.Context, tenantID string, in EndCallInput) (*EndCallResult, error) {
	tr := otel.Tracer("services/CallService")
	ctx, span := tr.Start(ctx, "EndCall",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("call.external_id", in.ExternalID),
			attribute.Int("turns", len(in.Turns)),
		),
	)
	defer span.End()

	log := s.Log.With().Str("tenant_id", tenantID).Str("external_call_id", in.ExternalID).Logger()

	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.ExternalID == "" {
		return nil, fmt.Errorf("%w: call id is required", ErrValidation)
	}

	started := in.StartedAt
	if started.IsZero() {
		for _, t := range in.Turns {
			if !t.SpokenAt.IsZero() {
				started = t.SpokenAt
				break
			}
		}
	}
	if started.IsZero() {
		started = time.Now().UTC()
	}

	call, err := repo.UpsertCall(ctx, s.DB, tenantID, in.ExternalID, started)
	if err != nil {
		return nil, err
	}
	if call.Finalized() {
		return s.duplicate(ctx, call, in)
	}

	entries := make([]domain.TranscriptEntry, 0, len(in.Turns))
	for i, t := range in.Turns {
		role, ok := normalizeRole(t.Role)
		if !ok || strings.TrimSpace(t.Content) == "" {
			log.Warn().Int("position", i).Str("role", t.Role).Msg("dropping malformed turn")
			continue
		}
		seq := t.Seq
		if seq <= 0 {
			seq = i + 1
		}
		at := t.SpokenAt
		if at.IsZero() {
			at = started
		}
		entries = append(entries, entry(tenantID, call.ID, seq, role, t.Content, at))
	}
	if _, err := repo.AppendTranscript(ctx, s.DB, tenantID, call.ID, entries); err != nil {
		return nil, err
	}

	if err := repo.FinalizeCall(ctx, s.DB, call, in.EndedAt, in.DurationSec); err != nil {
		if errors.Is(err, repo.ErrCallFinalized) {
			// A concurrent end event won.
			fresh, gerr := repo.GetCallByExternalID(ctx, s.DB, tenantID, in.ExternalID)
			if gerr != nil {
				return nil, gerr
			}
			return s.duplicate(ctx, fresh, in)
		}
		return nil, err
	}
	return s.process(ctx, call, in.Locale, nil)
}

// process summarizes a finalized call and materializes its items. The caller
// holds the call's processing lease; it is released on return and the call
// is marked processed only when every write succeeded. existing holds the
// requests an earlier partial run already wrote; matching items are skipped.
func (s *CallService) process(ctx context.Context, call *domain.Call, rawLocale string, existing []domain.ServiceRequest) (*EndCallResult, error) {
	tenantID := call.TenantID
	log := s.Log.With().Str("tenant_id", tenantID).Str("external_call_id", call.ExternalID).Logger()

	transcript, err := repo.ListTranscript(ctx, s.DB, tenantID, call.ID)
	if err != nil {
		s.release(ctx, log, call, false)
		return nil, err
	}

	locale := s.locale(rawLocale)
	res := s.Summarizer.Summarize(ctx, tenantID+":"+call.ExternalID, transcript, locale)

	var errs []error
	sum := &domain.Summary{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		CallID:   call.ID,
		Text:     res.Text,
		Items:    res.Items,
		Source:   res.Source,
		Locale:   res.Locale,
	}
	if err := repo.SaveSummary(ctx, s.DB, sum); err != nil {
		log.Error().Err(err).Str("call_id", call.ID).Msg("summary write failed")
		errs = append(errs, fmt.Errorf("save summary: %w", err))
	}

	items := res.Items
	if len(items) == 0 && res.Source == domain.SummaryFromFallback && strings.TrimSpace(res.Text) != "" {
		items = []domain.ServiceRequestItem{{
			Category:    CategoryManualReview,
			Description: res.Text,
			Quantity:    1,
			Location:    RoomFrom(transcript),
		}}
	}
	items = unmaterialized(items, existing)

	callID := call.ID
	reqs, err := s.Materializer.Materialize(ctx, tenantID, &callID, items)
	if err != nil {
		log.Error().Err(err).Str("call_id", call.ID).Int("written", len(reqs)).Int("items", len(items)).Msg("some requests were not materialized")
		errs = append(errs, err)
	}
	if len(reqs) == 0 {
		// Materialize only invalidates per written request; calls_today
		// still moved.
		invalidateDashboard(s.Materializer.Cache, tenantID)
	}
	reqs = append(existing, reqs...)

	if s.Bus != nil {
		ids := make([]string, 0, len(reqs))
		for _, r := range reqs {
			ids = append(ids, r.ID)
		}
		s.Bus.Publish(ctx, realtime.NewEvent(tenantID, realtime.TypeCallSummarized, CallSummarizedPayload{
			CallID:     call.ID,
			ExternalID: call.ExternalID,
			Source:     res.Source,
			Items:      len(res.Items),
			RequestIDs: ids,
		}))
	}

	s.release(ctx, log, call, len(errs) == 0)

	outcome := "processed"
	if len(errs) > 0 {
		outcome = "partial"
	} else if len(existing) > 0 {
		outcome = "resumed"
	}
	callsEnded.WithLabelValues(outcome).Inc()
	log.Info().
		Str("call_id", call.ID).
		Str("summary_source", res.Source).
		Int("requests", len(reqs)).
		Int("resumed_requests", len(existing)).
		Int("dropped_items", res.Dropped).
		Msg("call processed")

	return &EndCallResult{Call: call, Summary: sum, Requests: reqs, Resumed: existing != nil}, errors.Join(errs...)
}

func (s *CallService) release(ctx context.Context, log zerolog.Logger, call *domain.Call, done bool) {
	if err := repo.ReleaseCallProcessing(ctx, s.DB, call, done); err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Bool("done", done).Msg("call processing lease not released")
	}
}

// duplicate handles a repeated end event. The only accepted change to the
// call is a duration backfill. If the earlier pipeline run did not complete
// and its lease has lapsed, the pipeline runs again: the summary is replaced
// and only items without a request are materialized.
func (s *CallService) duplicate(ctx context.Context, call *domain.Call, in EndCallInput) (*EndCallResult, error) {
	if err := repo.FinalizeCall(ctx, s.DB, call, in.EndedAt, in.DurationSec); err != nil && !errors.Is(err, repo.ErrCallFinalized) {
		return nil, err
	}

	if call.Status == domain.CallEnded && call.ProcessedAt == nil {
		claimed, err := repo.ClaimCallProcessing(ctx, s.DB, call)
		if err != nil {
			return nil, err
		}
		if claimed {
			existing, err := repo.ListRequestsByCall(ctx, s.DB, call.TenantID, call.ID)
			if err != nil {
				s.release(ctx, s.Log, call, false)
				return nil, err
			}
			if existing == nil {
				existing = []domain.ServiceRequest{}
			}
			return s.process(ctx, call, in.Locale, existing)
		}
	}

	callsEnded.WithLabelValues("duplicate").Inc()
	out := &EndCallResult{Call: call, Duplicate: true}
	if sum, err := repo.GetSummary(ctx, s.DB, call.TenantID, call.ID); err == nil {
		out.Summary = sum
	}
	return out, nil
}

// unmaterialized drops items that already have a request among existing,
// matched on normalized category, description and location.
func unmaterialized(items []domain.ServiceRequestItem, existing []domain.ServiceRequest) []domain.ServiceRequestItem {
	if len(existing) == 0 {
		return items
	}
	have := make(map[string]int, len(existing))
	for _, r := range existing {
		have[requestKey(r.Category, r.Description, r.Location)]++
	}
	out := make([]domain.ServiceRequestItem, 0, len(items))
	for _, it := range items {
		k := requestKey(categoryOf(it.Category), it.Description, it.Location)
		if have[k] > 0 {
			have[k]--
			continue
		}
		out = append(out, it)
	}
	return out
}

func requestKey(category, description, location string) string {
	return category + "\x00" + strings.TrimSpace(description) + "\x00" + strings.TrimSpace(location)
}

// Summary returns the stored summary of a call.
func (s *CallService) Summary(ctx context.Context, tenantID, callID string) (*domain.Summary, error) {
	return repo.GetSummary(ctx, s.DB, tenantID, callID)
}

func (s *CallService) locale(raw string) language.Tag {
	if raw = strings.TrimSpace(raw); raw != "" {
		if t, err := language.Parse(raw); err == nil {
			return t
		}
	}
	if s.DefaultLocale == language.Und {
		return language.English
	}
	return s.DefaultLocale
}

func entry(tenantID, callID string, seq int, role, content string, at time.Time) domain.TranscriptEntry {
	return domain.TranscriptEntry{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		CallID:   callID,
		Seq:      seq,
		Role:     role,
		Content:  strings.TrimSpace(content),
		SpokenAt: at.UTC(),
	}
}

// normalizeRole maps the platform's speaker labels onto transcript roles.
func normalizeRole(r string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "caller", "user", "guest", "customer", "human":
		return domain.RoleCaller, true
	case "assistant", "agent", "bot", "ai", "concierge":
		return domain.RoleAssistant, true
	}
	return "", false
}

var roomPattern = regexp.MustCompile(`(?i)\b(?:room|suite|rm\.?)\s*(?:number\s*|no\.?\s*|#\s*)?(\d{1,5}[a-z]?)\b`)

// RoomFrom returns the first room number a caller mentions, or "".
func RoomFrom(transcript []domain.TranscriptEntry) string {
	for _, e := range transcript {
		if e.Role != domain.RoleCaller {
			continue
		}
		if m := roomPattern.FindStringSubmatch(e.Content); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}
