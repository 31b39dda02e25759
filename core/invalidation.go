package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Redis keys and defaults of the invalidation queue.
const (
	InvalidationPendingKey    = "authqueue:invalidations:pending"
	InvalidationProcessingKey = "authqueue:invalidations:processing"
	// DefaultVisibilityTimeout is how long a worker may hold a job before it is requeued.
	DefaultVisibilityTimeout = 30 * time.Second
	// MaxInvalidationAttempts bounds retries of a job that keeps failing.
	MaxInvalidationAttempts = 3
	// DefaultRetryBackoff is the delay unit between attempts of a failing job.
	DefaultRetryBackoff = time.Second
)

// ErrMalformedJob marks jobs that can never succeed and must be dropped.
var ErrMalformedJob = errors.New("malformed invalidation job")

// InvalidationJob asks for a principal's cached record, or a whole realm, to be dropped.
// An empty Principal purges the realm.
type InvalidationJob struct {
	ID          string    `json:"id"`
	Realm       string    `json:"realm"`
	Principal   string    `json:"principal,omitempty"`
	Attempts    int       `json:"attempts"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewInvalidationJob stamps a fresh job id.
func NewInvalidationJob(realm, principal string) InvalidationJob {
	return InvalidationJob{
		ID:          uuid.NewString(),
		Realm:       realm,
		Principal:   principal,
		RequestedAt: time.Now().UTC(),
	}
}

// EnqueueInvalidation validates and pushes job onto q.
func EnqueueInvalidation(ctx context.Context, q Queue, job InvalidationJob) error {
	if strings.TrimSpace(job.Realm) == "" {
		return fmt.Errorf("%w: realm is required", ErrMalformedJob)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, string(data))
}

// RealmResolver finds a realm by name.
type RealmResolver interface {
	Realm(name string) (*PluginRealm, error)
}

// InvalidationProcessor applies invalidation jobs to the registered realms.
type InvalidationProcessor struct {
	realms RealmResolver
}

func NewInvalidationProcessor(realms RealmResolver) *InvalidationProcessor {
	return &InvalidationProcessor{realms: realms}
}

// Process decodes raw and evicts the requested records. Errors wrapping ErrMalformedJob
// or ErrUnknownRealm are permanent; anything else may be retried.
func (p *InvalidationProcessor) Process(ctx context.Context, raw string) (InvalidationJob, error) {
	var job InvalidationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if strings.TrimSpace(job.Realm) == "" {
		return job, fmt.Errorf("%w: realm is required", ErrMalformedJob)
	}
	realm, err := p.realms.Realm(job.Realm)
	if err != nil {
		return job, err
	}
	if job.Principal == "" {
		return job, realm.Purge(ctx)
	}
	return job, realm.Invalidate(ctx, job.Principal)
}

// IsPermanent reports whether a processing error should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedJob) || errors.Is(err, ErrUnknownRealm)
}
