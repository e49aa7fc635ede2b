package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/modporter/api/internal/model"
	"github.com/modporter/api/internal/store"
)

// ProgressNotifier receives job progress events, e.g. for websocket push.
type ProgressNotifier interface {
	NotifyProgress(ev model.ProgressEvent)
}

// Coordinator drives one conversion job through the fixed stage sequence,
// invoking the stage executor per stage and recording progress, retries and
// fallbacks in the job store.
type Coordinator struct {
	jobs     store.JobStore
	executor StageExecutor
	retry    RetryPolicy
	notifier ProgressNotifier
	claimTTL time.Duration
}

func NewCoordinator(jobs store.JobStore, executor StageExecutor, retry RetryPolicy) *Coordinator {
	return &Coordinator{
		jobs:     jobs,
		executor: executor,
		retry:    retry,
		claimTTL: 2 * time.Hour,
	}
}

// SetNotifier attaches an optional progress notifier.
func (c *Coordinator) SetNotifier(n ProgressNotifier) {
	c.notifier = n
}

// Run executes the pipeline for one job. A second Run for the same job
// no-ops while the first holds the execution claim. Stage failures are
// resolved internally (job transitions to failed); only storage errors are
// returned, so the queue retries exactly the cases where retrying helps.
func (c *Coordinator) Run(ctx context.Context, job *model.ConversionJob, artifact *model.ArtifactRef) error {
	claimed, err := c.jobs.ClaimExecution(ctx, job.ID, c.claimTTL)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	if !claimed {
		log.Printf("Job %s is already executing, skipping", job.ID)
		return nil
	}
	defer func() {
		if err := c.jobs.ReleaseExecution(context.Background(), job.ID); err != nil {
			log.Printf("Failed to release claim for job %s: %v", job.ID, err)
		}
	}()

	jc := &Context{
		JobID:       job.ID,
		ArtifactID:  job.ArtifactID,
		ArtifactURL: artifact.URL,
		Options:     job.Options,
	}

	var (
		outcomes  []model.StageOutcome
		fallbacks []model.Fallback
		hardErrs  []string
	)

	total := len(Stages)
	for i, st := range Stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Cancellation is observed at stage boundaries only; the executor
		// call itself is opaque.
		reason, requested, err := c.jobs.CancelRequested(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to read cancel flag for job %s: %w", job.ID, err)
		}
		if requested {
			msg := "canceled by client"
			if reason != "" {
				msg = "canceled by client: " + reason
			}
			if err := c.jobs.Fail(ctx, job.ID, msg); err != nil {
				return fmt.Errorf("failed to cancel job %s: %w", job.ID, err)
			}
			c.notify(job.ID, model.JobStatusFailed, percentFor(i, total), string(st.Name))
			log.Printf("Job %s canceled before stage %s", job.ID, st.Name)
			return nil
		}

		if err := c.jobs.Transition(ctx, job.ID, st.State); err != nil {
			return fmt.Errorf("failed to enter stage %s for job %s: %w", st.Name, job.ID, err)
		}
		c.notify(job.ID, st.State, percentFor(i, total), string(st.Name))

		res, attempts := c.runStage(ctx, st, jc)

		if res.Success {
			outcome := model.StageOutcome{
				Stage:    string(st.Name),
				Status:   model.StageSucceeded,
				Attempts: attempts,
			}
			if err := jc.fold(st.Name, res.Output); err != nil {
				// The stage claimed success but produced undecodable output.
				res.Success = false
				res.Errors = append(res.Errors, err.Error())
			} else {
				for _, fb := range res.AppliedFallbacks {
					fallbacks = append(fallbacks, model.Fallback{Stage: string(st.Name), Reason: fb})
				}
				outcomes = append(outcomes, outcome)
			}
		}

		if !res.Success {
			outcome := model.StageOutcome{
				Stage:    string(st.Name),
				Status:   model.StageFailed,
				Attempts: attempts,
				Errors:   res.Errors,
			}

			if st.Required {
				outcomes = append(outcomes, outcome)
				msg := fmt.Sprintf("stage %s failed after %d attempts", st.Name, attempts)
				if len(res.Errors) > 0 {
					msg += ": " + strings.Join(res.Errors, "; ")
				}
				if err := c.jobs.Fail(ctx, job.ID, msg); err != nil {
					return fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
				}
				c.notify(job.ID, model.JobStatusFailed, percentFor(i, total), string(st.Name))
				log.Printf("Job %s failed in required stage %s", job.ID, st.Name)
				return nil
			}

			// Best-effort stage: record the skip and continue degraded.
			outcome.Status = model.StageFallback
			outcomes = append(outcomes, outcome)
			hardErrs = append(hardErrs, res.Errors...)
			fallbacks = append(fallbacks, model.Fallback{
				Stage:  string(st.Name),
				Reason: fmt.Sprintf("stage skipped after %d failed attempts; output omitted from the converted package", attempts),
			})
			log.Printf("Job %s: best-effort stage %s skipped after %d attempts", job.ID, st.Name, attempts)
		}

		percent := percentFor(i+1, total)
		if err := c.jobs.UpdateProgress(ctx, job.ID, percent, st.Label); err != nil {
			return fmt.Errorf("failed to update progress for job %s: %w", job.ID, err)
		}
		c.notify(job.ID, st.State, percent, string(st.Name))
	}

	report := BuildReport(jc, outcomes, fallbacks, hardErrs)
	if _, err := c.jobs.FinalizeResult(ctx, job.ID, report); err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", job.ID, err)
	}
	c.notify(job.ID, model.JobStatusCompleted, 100, "")
	log.Printf("Job %s completed with success rate %.2f", job.ID, report.SuccessRate)
	return nil
}

// runStage invokes the executor with the bounded retry loop. Executor errors
// never escape: they become failed attempts. Returns the last result and the
// number of attempts made.
func (c *Coordinator) runStage(ctx context.Context, st StageDescriptor, jc *Context) (*StageResult, int) {
	var errs []string
	attempts := 0

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, c.retry.Delay(attempt-1)) {
				break
			}
		}

		attempts++
		res, err := c.executor.Run(ctx, st.Name, jc)
		if err != nil {
			errs = append(errs, err.Error())
			log.Printf("Stage %s attempt %d failed: %v", st.Name, attempts, err)
			continue
		}
		if res.Success {
			return res, attempts
		}
		errs = append(errs, res.Errors...)
		log.Printf("Stage %s attempt %d unsuccessful", st.Name, attempts)
	}

	return &StageResult{Success: false, Errors: dedupe(errs)}, attempts
}

func (c *Coordinator) notify(jobID string, status model.JobStatus, percent int, stage string) {
	if c.notifier == nil {
		return
	}
	c.notifier.NotifyProgress(model.ProgressEvent{
		JobID:        jobID,
		Status:       status,
		Progress:     percent,
		CurrentStage: stage,
		Timestamp:    time.Now().UTC(),
	})
}

func percentFor(stagesDone, total int) int {
	return stagesDone * 100 / total
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
