// Package services – Reconciler
//
// The Reconciler repairs the legacy mirror. For each active tenant it
// compares every canonical request with its mirror row and re-upserts rows
// that are missing or no longer equivalent. It also fails calls whose end
// event never arrived.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-concierge-backend/internal/domain"
	"github.com/tbourn/go-concierge-backend/internal/repo"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	Tenants  int
	Checked  int
	Repaired int
	Failed   int
	// StaleCalls counts in-progress calls marked failed.
	StaleCalls int64
}

// Reconciler is safe to run from a single ticker.
type Reconciler struct {
	DB  *gorm.DB
	Log zerolog.Logger
	// Timeout bounds one pass; zero means no bound.
	Timeout time.Duration
	// StaleCallAfter is how long an in-progress call may go without a
	// transcript entry before it is failed. Zero disables the check.
	StaleCallAfter time.Duration
}

// RunOnce reconciles every active tenant.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	tenants, err := repo.ListActiveTenants(ctx, r.DB)
	if err != nil {
		return rep, err
	}
	for _, t := range tenants {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		tr, err := r.ReconcileTenant(ctx, t.ID)
		rep.Tenants++
		rep.Checked += tr.Checked
		rep.Repaired += tr.Repaired
		rep.Failed += tr.Failed
		rep.StaleCalls += tr.StaleCalls
		if err != nil {
			r.Log.Warn().Err(err).Str("tenant_id", t.ID).Msg("mirror reconciliation failed for tenant")
		}
	}
	return rep, nil
}

// ReconcileTenant reconciles a single tenant.
func (r *Reconciler) ReconcileTenant(ctx context.Context, tenantID string) (ReconcileReport, error) {
	rep := ReconcileReport{Tenants: 1}
	canonical, err := repo.ListAllRequests(ctx, r.DB, tenantID)
	if err != nil {
		return rep, err
	}
	mirrors, err := repo.ListLegacyRequests(ctx, r.DB, tenantID)
	if err != nil {
		return rep, err
	}
	for i := range canonical {
		c := &canonical[i]
		rep.Checked++
		if m, ok := mirrors[c.ID]; ok && m.EquivalentTo(c) {
			continue
		}
		// The snapshot may predate a concurrent status change; repair from
		// the current row.
		fresh, err := repo.GetRequest(ctx, r.DB, tenantID, c.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			rep.Failed++
			r.Log.Warn().Err(err).Str("tenant_id", tenantID).Str("correlation_id", c.ID).Msg("canonical re-read failed")
			continue
		}
		if m, ok := mirrors[c.ID]; ok && m.EquivalentTo(fresh) {
			continue
		}
		written, err := repo.RepairLegacyRequest(ctx, r.DB, domain.MirrorOf(fresh))
		if err != nil {
			rep.Failed++
			r.Log.Warn().Err(err).Str("tenant_id", tenantID).Str("correlation_id", c.ID).Msg("mirror repair failed")
			continue
		}
		if !written {
			// A newer mirror write landed first.
			continue
		}
		rep.Repaired++
		mirrorRepairs.Inc()
	}

	if r.StaleCallAfter > 0 {
		n, err := repo.FailStaleCalls(ctx, r.DB, tenantID, time.Now().Add(-r.StaleCallAfter))
		if err != nil {
			return rep, err
		}
		rep.StaleCalls = n
		staleCalls.Add(float64(n))
	}
	return rep, nil
}

// Start runs RunOnce every interval under the tracker name "reconciler".
func (r *Reconciler) Start(tr *tracker.Tracker, interval time.Duration) tracker.Releaser {
	return tr.Ticker("reconciler", interval, func() {
		ctx := context.Background()
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		rep, err := r.RunOnce(ctx)
		if err != nil {
			r.Log.Error().Err(err).Msg("mirror reconciliation pass failed")
			return
		}
		if rep.Repaired > 0 || rep.Failed > 0 || rep.StaleCalls > 0 {
			r.Log.Info().
				Int("tenants", rep.Tenants).
				Int("checked", rep.Checked).
				Int("repaired", rep.Repaired).
				Int("failed", rep.Failed).
				Int64("stale_calls", rep.StaleCalls).
				Msg("mirror reconciliation pass")
		}
	})
}
