// Package core declares the ports between the processing supervisor and its
// collaborators.
package core

import (
	"context"
	"errors"
	"io"

	"github.com/target/docflow/internal/domain/model"
)

// JobStore is the shared record of all submitted documents. Each job has a
// single writer; readers always see whole snapshots.
type JobStore interface {
	// Upsert inserts or replaces a job. Writing an id that was removed fails.
	Upsert(job *model.DocumentJob) error
	// Update applies fn to a private copy of the job and stores the result
	// when fn returns true.
	Update(id string, fn func(*model.DocumentJob) bool) (*model.DocumentJob, error)
	Get(id string) (*model.DocumentJob, error)
	// List returns snapshots in insertion order.
	List() []*model.DocumentJob
	// Remove deletes a job and closes its Done channel. It reports whether
	// the job existed; removing twice is not an error.
	Remove(id string) bool
	// Done is closed once the job is removed.
	Done(id string) (<-chan struct{}, error)
	Subscribe() (func(), <-chan model.JobEvent)
}

// Transport opens the processing stream for one document. The returned body
// yields the raw event stream and must be closed by the caller.
type Transport interface {
	Open(ctx context.Context, file model.File) (io.ReadCloser, error)
}

// EventPublisher forwards job changes to an external channel.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.JobEvent) error
}

// JobRemover is what the retention reaper needs to expire finished jobs.
// Removing through the supervisor also stops any processing loop.
type JobRemover interface {
	List() []*model.DocumentJob
	Remove(id string) bool
}

// Job store sentinels.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRemoved  = errors.New("job was removed")
)
