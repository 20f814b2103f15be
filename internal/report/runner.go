package report

import (
	"context"

	"github.com/google/uuid"
)

// Outcome is the single terminal message of a run: exactly one of
// Annual or Dual is set on success, Err on failure.
type Outcome struct {
	Annual *AnnualReport
	Dual   *DualReport
	Err    error
}

// Run is one in-flight report computation. Each run owns its worker
// goroutine and its accumulator state; nothing is shared between
// concurrent runs.
type Run struct {
	ID       string
	progress chan Progress
	done     chan Outcome
}

// Progress streams throttled updates. The channel closes when the
// run terminates. Slow consumers lose intermediate updates, never
// the terminal outcome.
func (r *Run) Progress() <-chan Progress {
	return r.progress
}

// Done delivers the terminal outcome exactly once.
func (r *Run) Done() <-chan Outcome {
	return r.done
}

// Runner launches report computations against one source.
type Runner struct {
	src Source
}

func NewRunner(src Source) *Runner {
	return &Runner{src: src}
}

// Annual starts an annual report run. Cancel ctx to abort; the
// worker observes cancellation between cursor batches and the run
// terminates with ctx's error.
func (rn *Runner) Annual(ctx context.Context, opts Options) *Run {
	return rn.start(ctx, opts, func(ctx context.Context, opts Options) Outcome {
		rep, err := Annual(ctx, rn.src, opts)
		return Outcome{Annual: rep, Err: err}
	})
}

// Dual starts a pairwise report run for one session.
func (rn *Runner) Dual(
	ctx context.Context, sessionID string, opts Options,
) *Run {
	return rn.start(ctx, opts, func(ctx context.Context, opts Options) Outcome {
		rep, err := Dual(ctx, rn.src, sessionID, opts)
		return Outcome{Dual: rep, Err: err}
	})
}

func (rn *Runner) start(
	ctx context.Context, opts Options,
	compute func(context.Context, Options) Outcome,
) *Run {
	run := &Run{
		ID:       uuid.NewString(),
		progress: make(chan Progress, 16),
		done:     make(chan Outcome, 1),
	}
	opts.RunID = run.ID

	caller := opts.Progress
	opts.Progress = func(p Progress) {
		if caller != nil {
			caller(p)
		}
		select {
		case run.progress <- p:
		default:
		}
	}

	go func() {
		defer close(run.progress)
		out := compute(ctx, opts)
		if out.Err != nil {
			out.Annual, out.Dual = nil, nil
			log.WithError(out.Err).WithField("run", run.ID).
				Warn("report run failed")
		} else {
			opts.Progress(Progress{
				RunID: run.ID, StatusText: "Done", Percent: 100,
			})
		}
		run.done <- out
	}()
	return run
}
