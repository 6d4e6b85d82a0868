package service

import (
	"context"
	"time"

	"github.com/punchamoorthee/savingsledger/internal/domain"
	"go.uber.org/zap"
)

// Hook is a side effect run after a ledger change has committed.
// Its error is logged and never changes the outcome of the operation.
type Hook interface {
	Name() string
	AfterCommit(ctx context.Context, event domain.LedgerEvent) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, event domain.LedgerEvent) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) AfterCommit(ctx context.Context, event domain.LedgerEvent) error {
	return h.Fn(ctx, event)
}

const hookTimeout = 5 * time.Second

// notify runs every hook in registration order. The request context may be
// about to end, so hooks get a detached context with their own deadline.
func (s *TransferService) notify(ctx context.Context, event domain.LedgerEvent) {
	if len(s.hooks) == 0 {
		return
	}
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()

	for _, h := range s.hooks {
		if err := h.AfterCommit(hookCtx, event); err != nil {
			hookFailuresTotal.WithLabelValues(h.Name()).Inc()
			s.logger.Warn("post-commit hook failed",
				zap.String("hook", h.Name()),
				zap.String("event", string(event.Type)),
				zap.Stringer("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
}
