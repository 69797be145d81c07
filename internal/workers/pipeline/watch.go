package pipeline

import (
    "context"
    "log/slog"
    "time"
)

// Pass is one round of unattended work.
type Pass func(ctx context.Context) error

// Batch is the cron entry point: process ready lanes, then reconcile
// finished chains. Reconciliation runs even when lane processing failed.
func Batch(p *Pipeline, r *Reconciler, opts Options) Pass {
    return func(ctx context.Context) error {
        _, perr := p.ProcessReadyLanes(ctx, opts)
        if ctx.Err() != nil { return perr }
        _, rerr := r.Reconcile(ctx)
        if perr != nil { return perr }
        return rerr
    }
}

// Watch runs pass immediately and then on every tick until ctx is done.
// Passes never overlap; a failed pass is logged and retried on the next
// tick.
func Watch(ctx context.Context, interval time.Duration, pass Pass, logger *slog.Logger) {
    if logger == nil { logger = slog.Default() }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for round := 1; ; round++ {
        start := time.Now()
        if err := pass(ctx); err != nil {
            logger.Error("pipeline pass failed", "round", round, "error", err)
        } else {
            logger.Info("pipeline pass finished", "round", round, "elapsed", time.Since(start).Round(time.Millisecond))
        }
        if ctx.Err() != nil { return }
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
        }
    }
}
