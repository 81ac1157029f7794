// Package metrics emits the document job lifecycle metrics.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/docflow/internal/observability/errors"
	"github.com/target/docflow/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names.
const (
	TransitionSubmitted = "submitted"
	TransitionStage     = "stage"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionRemoved   = "removed"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Transition string
	Result     string
	Stage      string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Stage != "" {
		tags["stage"] = in.Stage
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, maps.Clone(tags))
	}
}

// EmitFrameDropped counts a frame the router could not decode.
func EmitFrameDropped(sink statsd.Sink, err error) {
	if sink == nil {
		return
	}
	sink.Count("frame.dropped", 1, map[string]string{"reason": obserrors.Classify(err)})
}

// EmitInflight reports the number of jobs with an open stream.
func EmitInflight(sink statsd.Sink, n int) {
	if sink == nil {
		return
	}
	sink.Gauge("jobs.inflight", float64(n), nil)
}
