package pool

import (
	"context"

	"github.com/rs/zerolog"
)

// txn runs collaborator calls in order and remembers how to undo each
// one. If a later call fails, rollback replays the undo steps in reverse
// so the ledgers end up as they were before the entry point ran.
type txn struct {
	ctx  context.Context
	log  zerolog.Logger
	undo []func(context.Context) error
}

func newTxn(ctx context.Context, log zerolog.Logger) *txn {
	return &txn{ctx: ctx, log: log}
}

func (t *txn) do(step func(context.Context) error, undo func(context.Context) error) error {
	if err := step(t.ctx); err != nil {
		return err
	}
	if undo != nil {
		t.undo = append(t.undo, undo)
	}
	return nil
}

func (t *txn) rollback() {
	// Compensation must run even if the request context is done.
	ctx := context.WithoutCancel(t.ctx)
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			t.log.Error().Err(err).Int("step", i).Msg("rollback step failed")
		}
	}
	t.undo = nil
}
