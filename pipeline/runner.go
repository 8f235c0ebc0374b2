// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/plansight/core"
)

var (
	// ErrUnknownStep is returned when a step is not declared for the pipeline kind.
	ErrUnknownStep = errors.New("step not declared for pipeline kind")

	// ErrStepOrder is returned when steps are not in declared order.
	ErrStepOrder = errors.New("steps out of declared order")

	// ErrRecorderRequired is returned when Run is called without a recorder.
	ErrRecorderRequired = errors.New("recorder required")
)

// Report describes one execution of a unit's steps.
type Report struct {
	// Executed lists steps that ran, in order.
	Executed []core.StepName

	// Restored lists completed steps whose output was reused.
	Restored []core.StepName

	// Failure is the failed result, if a step failed.
	Failure *core.StepResult

	// Cause is the step's error, wrapped in a core.StepError.
	Cause error
}

// Failed reports whether a step failed.
func (r Report) Failed() bool {
	return r.Failure != nil
}

// Runner executes steps over a unit in declared order.
type Runner[S any] struct {
	kind   core.PipelineKind
	steps  []Step[S]
	now    func() time.Time
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock sets the time source used for result timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(c *runnerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRunner checks the steps against the kind's declared order.
// Steps may be a subset of the declared steps but must keep their order.
func NewRunner[S any](kind core.PipelineKind, steps []Step[S], opts ...RunnerOption) (*Runner[S], error) {
	if !kind.Valid() {
		return nil, core.ConfigurationError("unknown pipeline kind %q", kind)
	}

	cfg := runnerConfig{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	order := make(map[core.StepName]int)
	for i, name := range core.StepNames(kind) {
		order[name] = i
	}
	last := -1
	for _, step := range steps {
		pos, ok := order[step.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownStep, kind, step.Name)
		}
		if pos <= last {
			return nil, fmt.Errorf("%w: %s", ErrStepOrder, step.Name)
		}
		if step.Run == nil {
			return nil, core.ConfigurationError("step %s has no run function", step.Name)
		}
		last = pos
	}

	return &Runner[S]{
		kind:   kind,
		steps:  steps,
		now:    cfg.now,
		logger: cfg.logger.With("pipeline", string(kind)),
	}, nil
}

// Steps returns the runner's step names in order.
func (r *Runner[S]) Steps() []core.StepName {
	names := make([]core.StepName, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	return names
}

// Run executes the steps against state, recording every result through rec.
// A step failure stops the unit and is reported in Report.Failure; the
// returned error is reserved for recording faults. With force set every
// step re-runs regardless of prior results.
func (r *Runner[S]) Run(ctx context.Context, rec Recorder, state *S, force bool) (Report, error) {
	var report Report
	if rec == nil {
		return report, ErrRecorderRequired
	}

	current, err := rec.Results(ctx)
	if err != nil {
		return report, err
	}
	if current == nil {
		current = make(map[core.StepName]core.StepResult)
	}

	dirty := force
	for _, step := range r.steps {
		logger := r.logger.With("step", string(step.Name))

		if !dirty {
			restored, err := r.restore(ctx, step, current, state)
			if err != nil {
				logger.Warn("restore failed, re-running step", "err", err)
			}
			if restored {
				logger.Debug("restored completed step")
				report.Restored = append(report.Restored, step.Name)
				continue
			}
			dirty = true
		}

		result, cause, err := r.execute(ctx, rec, step, current, state, logger)
		if err != nil {
			return report, err
		}
		current[step.Name] = result
		report.Executed = append(report.Executed, step.Name)

		if cause != nil {
			report.Failure = &result
			report.Cause = cause
			return report, nil
		}
	}
	return report, nil
}

func (r *Runner[S]) restore(ctx context.Context, step Step[S], current map[core.StepName]core.StepResult, state *S) (bool, error) {
	prev, ok := current[step.Name]
	if !ok || !prev.Status.Satisfied() || step.Restore == nil {
		return false, nil
	}
	return step.Restore(ctx, state)
}

func (r *Runner[S]) execute(ctx context.Context, rec Recorder, step Step[S], current map[core.StepName]core.StepResult,
	state *S, logger *slog.Logger) (core.StepResult, error, error) {

	started := core.StartResult(step.Name, core.NextAttempt(current, step.Name), r.now())
	if err := rec.Record(ctx, started); err != nil {
		return core.StepResult{}, nil, fmt.Errorf("recording %s start: %w", step.Name, err)
	}
	logger.Debug("step started", "attempt", started.Attempt)

	outcome, runErr := r.invoke(ctx, step, state)

	var finished core.StepResult
	var cause error
	if runErr != nil {
		cause = core.NewStepError(step.Name, runErr)
		finished = started.Fail(cause, r.now())
		logger.Warn("step failed", "attempt", started.Attempt, "err", runErr)
	} else {
		status := outcome.Status
		if status == "" {
			status = core.StatusCompleted
		}
		finished = started.Finish(status, outcome.Summary, outcome.Samples, r.now())
		logger.Info("step finished", "status", status, "duration", finished.Duration)
	}

	// A cancelled caller context must not prevent the terminal write.
	if err := rec.Record(context.WithoutCancel(ctx), finished); err != nil {
		return core.StepResult{}, nil, fmt.Errorf("recording %s result: %w", step.Name, err)
	}
	return finished, cause, nil
}

// invoke runs the step, converting a panic into a step failure.
func (r *Runner[S]) invoke(ctx context.Context, step Step[S], state *S) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	outcome, err = step.Run(ctx, state)
	if err == nil && outcome.Status != "" && outcome.Status != core.StatusCompleted && outcome.Status != core.StatusSkipped {
		err = fmt.Errorf("invalid outcome status %q", outcome.Status)
	}
	return outcome, err
}
