// Package notify decides when a human should hear about a download
// outcome, and delivers the message when they should. The policy is a
// pure decision engine; all state mutation stays with the caller.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/soundspan/soundspan/internal/constants"
	"github.com/soundspan/soundspan/internal/domain"
)

// Event is the job event being evaluated.
type Event string

const (
	EventComplete Event = "complete"
	EventFailed   Event = "failed"
	EventRetry    Event = "retry"
	EventTimeout  Event = "timeout"
)

// Type classifies an outbound notification.
type Type string

const (
	TypeDownloadComplete Type = "download_complete"
	TypeDownloadFailed   Type = "download_failed"
)

// Decision is the policy verdict for one (job, event) pair.
type Decision struct {
	ShouldNotify bool
	Reason       string
	Type         Type

	// ExtendWindow tells the caller the job is still inside its retry
	// window and should be extended rather than failed.
	ExtendWindow bool
}

// SiblingFinder is the single read the policy issues: finding another job
// for the same logical album that was already notified.
type SiblingFinder interface {
	FindNotifiedSibling(ctx context.Context, albumKey, excludeID string) (*domain.DownloadJob, error)
}

// Policy evaluates notification decisions. Zero value is not usable;
// construct with NewPolicy.
type Policy struct {
	retryWindow       time.Duration
	suppressTransient bool
	now               func() time.Time
}

type PolicyOption func(*Policy)

// WithTransientSuppression toggles suppression of transient failures.
func WithTransientSuppression(on bool) PolicyOption {
	return func(p *Policy) { p.suppressTransient = on }
}

// WithRetryWindow overrides the default retry window.
func WithRetryWindow(d time.Duration) PolicyOption {
	return func(p *Policy) { p.retryWindow = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) { p.now = now }
}

func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		retryWindow:       time.Duration(constants.DefaultRetryWindowMinutes) * time.Minute,
		suppressTransient: true,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate applies the decision table for the job's current status and the
// incoming event. The only I/O is the sibling lookup through q.
func (p *Policy) Evaluate(ctx context.Context, q SiblingFinder, job *domain.DownloadJob, event Event) (Decision, error) {
	if job == nil {
		return Decision{Reason: "no job"}, nil
	}

	// Batch-scoped jobs are notified at the batch level, never one by one.
	if job.DiscoveryBatchID != nil && *job.DiscoveryBatchID != "" {
		return Decision{Reason: "Discovery batch job - batch notification handles this"}, nil
	}
	if job.Meta.SpotifyImport != nil && job.Meta.SpotifyImport.ImportJobID != "" {
		return Decision{Reason: "Spotify import job - import notification handles this"}, nil
	}

	if job.Meta.NotificationSent {
		return Decision{Reason: "Notification already sent for this job"}, nil
	}

	switch job.Status {
	case domain.JobStatusPending:
		return Decision{Reason: "Job still pending - nothing to report"}, nil

	case domain.JobStatusProcessing:
		return p.evaluateProcessing(job, event), nil

	case domain.JobStatusCompleted:
		if event != EventComplete {
			return Decision{Reason: fmt.Sprintf("Event %q not valid for completed job", event)}, nil
		}
		dup, err := q.FindNotifiedSibling(ctx, job.AlbumKey(), job.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("duplicate notification check failed: %w", err)
		}
		if dup != nil {
			return Decision{Reason: "Another job for this album already notified"}, nil
		}
		return Decision{ShouldNotify: true, Reason: "Download completed", Type: TypeDownloadComplete}, nil

	case domain.JobStatusFailed, domain.JobStatusExhausted:
		if event != EventFailed && event != EventTimeout {
			return Decision{Reason: fmt.Sprintf("Event %q not valid for %s job", event, job.Status)}, nil
		}
		dup, err := q.FindNotifiedSibling(ctx, job.AlbumKey(), job.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("duplicate notification check failed: %w", err)
		}
		if dup != nil {
			return Decision{Reason: "Another job for this album already notified"}, nil
		}
		return p.evaluateFailure(job), nil

	default:
		return Decision{Reason: "unknown status"}, nil
	}
}

func (p *Policy) evaluateProcessing(job *domain.DownloadJob, event Event) Decision {
	switch event {
	case EventComplete:
		// The status transition has not landed yet; the completion path
		// re-evaluates once it does.
		return Decision{Reason: "Job still processing - waiting for status transition"}
	case EventFailed, EventRetry, EventTimeout:
		if p.inRetryWindow(job) {
			return Decision{
				Reason:       "Job in active retry window - suppressing notification",
				ExtendWindow: true,
			}
		}
		if event == EventTimeout {
			return Decision{Reason: "Retry window expired - caller should mark failed"}
		}
		return Decision{Reason: "Retry window expired - caller should extend or fail"}
	default:
		return Decision{Reason: fmt.Sprintf("Event %q not valid for processing job", event)}
	}
}

func (p *Policy) evaluateFailure(job *domain.DownloadJob) Decision {
	reason := ""
	if job.Error != nil {
		reason = *job.Error
	}

	switch ClassifyFailure(reason) {
	case SeverityCritical:
		return Decision{ShouldNotify: true, Reason: "Critical failure", Type: TypeDownloadFailed}
	case SeverityPermanent:
		return Decision{ShouldNotify: true, Reason: "Permanent failure", Type: TypeDownloadFailed}
	default:
		if p.suppressTransient {
			return Decision{Reason: "Transient failure - suppressed"}
		}
		return Decision{ShouldNotify: true, Reason: "Transient failure", Type: TypeDownloadFailed}
	}
}

// inRetryWindow reports whether the job started recently enough that the
// acquisition system is assumed to still be iterating options.
func (p *Policy) inRetryWindow(job *domain.DownloadJob) bool {
	started := job.StartedAt
	if started == nil {
		started = job.Meta.StartedAt
	}
	if started == nil {
		return false
	}

	window := p.retryWindow
	if job.Meta.RetryWindowMinutes > 0 {
		window = time.Duration(job.Meta.RetryWindowMinutes) * time.Minute
	}
	return p.now().Sub(*started) < window
}
