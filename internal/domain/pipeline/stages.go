// Package pipeline holds the four-stage progress model of a document job and
// the reducer that folds stream messages into it.
package pipeline

import (
	"slices"
	"time"

	"github.com/target/docflow/internal/domain/model"
)

// StageCount is the fixed number of stages every job moves through.
const StageCount = 4

// Stage describes one fixed processing stage.
type Stage struct {
	Key  string
	Name string
}

var stages = [StageCount]Stage{
	{Key: "extraction", Name: "Text extraction"},
	{Key: "translation", Name: "Translation and normalization"},
	{Key: "analysis", Name: "Clause analysis"},
	{Key: "finalization", Name: "Finalization"},
}

// Stages returns the stage catalogue in processing order.
func Stages() []Stage {
	return stages[:]
}

// StatusMapping is the stage (1-based) and display text for a server status.
type StatusMapping struct {
	Stage   int
	Display string
}

// statusTable is the wire contract between the analysis backend and this
// client. Keys must match the server's status strings exactly.
var statusTable = map[string]StatusMapping{
	"Extracting text...":   {Stage: 1, Display: "Extracting text from document"},
	"Splitting PDF...":     {Stage: 1, Display: "Splitting PDF into page batches"},
	"Translating...":       {Stage: 2, Display: "Translating document"},
	"Normalizing text...":  {Stage: 2, Display: "Normalizing extracted text"},
	"Analyzing clauses...": {Stage: 3, Display: "Analyzing clauses"},
	"Refining results...":  {Stage: 3, Display: "Refining clause analysis"},
	"Finalizing...":        {Stage: 4, Display: "Finalizing results"},
}

// Lookup maps a server status string to its stage.
func Lookup(status string) (StatusMapping, bool) {
	m, ok := statusTable[status]
	return m, ok
}

// KnownStatuses returns every mapped status string, sorted.
func KnownStatuses() []string {
	out := make([]string, 0, len(statusTable))
	for k := range statusTable {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// NewJob builds a Queued job with all stages pending.
func NewJob(id string, f model.File, now time.Time) *model.DocumentJob {
	st := make([]model.StageState, StageCount)
	for i, s := range stages {
		st[i] = model.StageState{Key: s.Key, Name: s.Name, Status: model.StageStatusPending}
	}
	return &model.DocumentJob{
		ID:          id,
		Name:        f.Name,
		Size:        f.Size,
		Type:        f.Type,
		SubmittedAt: now,
		Status:      model.JobStatusQueued,
		Stages:      st,
		Log:         []model.LogEntry{},
		UpdatedAt:   now,
	}
}
