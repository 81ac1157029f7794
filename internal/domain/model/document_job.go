// Package model defines the core data types shared by the docflow upload pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// JobStatus represents the lifecycle status of a submitted document.
type JobStatus string

const (
	// JobStatusQueued indicates the job was created and no message has arrived yet.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates at least one message has been received.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a final result was received.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates validation, transport or server failure.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageStatus is the state of a single pipeline stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageState is the observable state of one stage of one job.
type StageState struct {
	Key      string      `json:"key"`
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	Message  string      `json:"message,omitempty"`
	Progress *float64    `json:"progress,omitempty"`
}

// LogEntry is one timestamped progress note.
type LogEntry struct {
	At      time.Time `json:"at"`
	Stage   int       `json:"stage"`
	Message string    `json:"message"`
}

// DocumentJob is the client-side record of one submitted document.
//
// Values handed out by the job store are snapshots: callers must treat
// them as read-only and use Clone before mutating.
type DocumentJob struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Type        string    `json:"type"`
	SubmittedAt time.Time `json:"submitted_at"`

	Status            JobStatus       `json:"status"`
	CurrentStageIndex int             `json:"current_stage_index"`
	Stages            []StageState    `json:"stages"`
	Result            json.RawMessage `json:"result,omitempty"`
	ErrorDetail       string          `json:"error_detail,omitempty"`
	Log               []LogEntry      `json:"log"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalJSON adds a human readable size label next to the raw byte count.
func (j DocumentJob) MarshalJSON() ([]byte, error) {
	type plain DocumentJob
	return json.Marshal(struct {
		plain
		SizeLabel string `json:"size_label"`
	}{plain: plain(j), SizeLabel: FormatFileSize(j.Size)})
}

// Clone returns a deep copy safe to mutate without affecting readers.
func (j *DocumentJob) Clone() *DocumentJob {
	if j == nil {
		return nil
	}
	out := *j
	if j.Stages != nil {
		out.Stages = make([]StageState, len(j.Stages))
		for i, st := range j.Stages {
			if st.Progress != nil {
				p := *st.Progress
				st.Progress = &p
			}
			out.Stages[i] = st
		}
	}
	if j.Result != nil {
		out.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Log != nil {
		out.Log = append([]LogEntry(nil), j.Log...)
	}
	return &out
}

// ActiveStage returns the index of the active stage, or -1.
func (j *DocumentJob) ActiveStage() int {
	for i, st := range j.Stages {
		if st.Status == StageStatusActive {
			return i
		}
	}
	return -1
}

// AppendLog appends a progress note. The log is never reordered or pruned.
func (j *DocumentJob) AppendLog(at time.Time, msg string) {
	j.Log = append(j.Log, LogEntry{At: at, Stage: j.CurrentStageIndex, Message: msg})
}

// File is a document offered for submission. Open is called at most once,
// from the goroutine that uploads the document.
type File struct {
	Name string
	Size int64
	Type string
	Open func() (io.ReadCloser, error)
	// Release, when set, is called once the job is done with the file,
	// whether or not it was ever uploaded.
	Release func()
}

// Done calls Release if one is set.
func (f File) Done() {
	if f.Release != nil {
		f.Release()
	}
}

// JobEventKind distinguishes store change notifications.
type JobEventKind string

const (
	JobEventUpserted JobEventKind = "job"
	JobEventRemoved  JobEventKind = "removed"
)

// JobEvent describes one change to the job store.
type JobEvent struct {
	Kind  JobEventKind `json:"kind"`
	JobID string       `json:"job_id"`
	Job   *DocumentJob `json:"job,omitempty"`
}

// FormatFileSize renders a byte count as "Bytes", "KB", "MB" or "GB" with at
// most two decimals, e.g. 1536 -> "1.5 KB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	const k = 1024.0
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(k)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(bytes) / math.Pow(k, float64(i))
	v = math.Round(v*100) / 100
	return fmt.Sprintf("%s %s", strconv.FormatFloat(v, 'f', -1, 64), units[i])
}
