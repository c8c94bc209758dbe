package security

import "context"

// lifecycle scopes in-flight backend calls to the flow and to the current
// step. Leaving a step or closing the flow cancels the outstanding request,
// and a response that still arrives is discarded by settle. All methods must
// be called with the owning flow's mutex held.
type lifecycle struct {
	ctx        context.Context
	cancel     context.CancelFunc
	stepCtx    context.Context
	stepCancel context.CancelFunc
	gen        uint64
	busy       bool
	closed     bool
}

func newLifecycle() *lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	stepCtx, stepCancel := context.WithCancel(ctx)
	return &lifecycle{ctx: ctx, cancel: cancel, stepCtx: stepCtx, stepCancel: stepCancel}
}

// begin reserves the flow for one backend call and returns a context that is
// cancelled with ctx, with the current step, or with the flow.
func (l *lifecycle) begin(ctx context.Context) (context.Context, uint64, func(), error) {
	if l.closed {
		return nil, 0, nil, ErrClosed
	}
	if l.busy {
		return nil, 0, nil, ErrBusy
	}
	l.busy = true
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.stepCtx, cancel)
	release := func() {
		stop()
		cancel()
	}
	return opCtx, l.gen, release, nil
}

// settle ends the call started at gen. A non-nil error means the result
// must be dropped.
func (l *lifecycle) settle(gen uint64) error {
	if l.closed {
		return ErrClosed
	}
	if gen != l.gen {
		return ErrStale
	}
	l.busy = false
	return nil
}

// advance moves to a new step, abandoning any call still in flight.
func (l *lifecycle) advance() {
	if l.closed {
		return
	}
	l.stepCancel()
	l.gen++
	l.busy = false
	l.stepCtx, l.stepCancel = context.WithCancel(l.ctx)
}

func (l *lifecycle) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.busy = false
	l.cancel()
}
