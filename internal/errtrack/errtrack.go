// Package errtrack classifies pipeline failures and pushes critical ones to
// the operator alerting channel.
package errtrack

import (
	"errors"

	"scribepipe/internal/breaker"
	"scribepipe/internal/provider"
	"scribepipe/internal/quota"
	"scribepipe/internal/storage"
)

// Kind is the failure taxonomy bucket.
type Kind string

const (
	KindValidation Kind = "validation"
	KindQuota      Kind = "quota"
	KindProvider   Kind = "provider"
	KindEnrichment Kind = "enrichment"
	KindArtifact   Kind = "artifact"
	KindStuck      Kind = "stuck"
	KindInternal   Kind = "internal"
)

// Severity tags how loudly a failure should surface.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ErrStuck marks a watchdog-forced failure.
var ErrStuck = errors.New("job stuck without progress")

// ErrEnrichment wraps non-fatal enrichment task failures.
var ErrEnrichment = errors.New("enrichment failed")

// ErrArtifact wraps non-fatal artifact generation failures.
var ErrArtifact = errors.New("artifact generation failed")

// Classify maps an error onto its taxonomy bucket and severity.
func Classify(err error) (Kind, Severity) {
	switch {
	case err == nil:
		return KindInternal, SeverityWarning
	case errors.Is(err, quota.ErrQuotaExceeded), errors.Is(err, quota.ErrNoAccount):
		return KindQuota, SeverityWarning
	case errors.Is(err, storage.ErrBadSource), errors.Is(err, provider.ErrUnsupportedFormat):
		return KindValidation, SeverityWarning
	case errors.Is(err, ErrStuck):
		return KindStuck, SeverityCritical
	case errors.Is(err, ErrEnrichment):
		return KindEnrichment, SeverityWarning
	case errors.Is(err, ErrArtifact):
		return KindArtifact, SeverityWarning
	case errors.Is(err, breaker.ErrOpen),
		errors.Is(err, provider.ErrProvider),
		errors.Is(err, provider.ErrEmptyTranscript):
		return KindProvider, SeverityCritical
	default:
		return KindInternal, SeverityCritical
	}
}

// IsFatal reports whether a failure kind terminates the job.
func (k Kind) IsFatal() bool {
	switch k {
	case KindEnrichment, KindArtifact:
		return false
	default:
		return true
	}
}

// IsRetryable reports whether the job may be re-enqueued after this kind.
// Only provider failures are worth retrying; validation and quota failures
// will fail identically every time.
func (k Kind) IsRetryable() bool {
	return k == KindProvider
}
