package pipeline

import (
	"time"

	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/stream"
)

// Outcome reports what Apply did to a job.
type Outcome struct {
	// Changed is false when the job was already terminal.
	Changed bool
	// Unmapped is set for status text missing from the status table.
	Unmapped bool
	// Regressed is set for a status mapped to a stage behind the current one.
	Regressed bool
	// Terminal is set once the job reached Completed or Failed.
	Terminal bool
}

// Apply folds one message into job. The job must be owned by the caller;
// terminal jobs are never modified.
func Apply(job *model.DocumentJob, msg stream.Message, now time.Time) Outcome {
	if job.Status.Terminal() {
		return Outcome{Terminal: true}
	}
	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusProcessing
	}
	job.UpdatedAt = now

	var out Outcome
	switch m := msg.(type) {
	case stream.Status:
		out = applyStatus(job, m, now)
	case stream.FinalResult:
		complete(job, m, now)
	case stream.ErrorEvent:
		Fail(job, m.Detail, true, now)
	}
	out.Changed = true
	out.Terminal = job.Status.Terminal()
	return out
}

func applyStatus(job *model.DocumentJob, m stream.Status, now time.Time) Outcome {
	mapping, ok := Lookup(m.Status)
	if !ok {
		job.AppendLog(now, m.Status)
		return Outcome{Unmapped: true}
	}
	if mapping.Stage < job.CurrentStageIndex {
		job.AppendLog(now, mapping.Display)
		return Outcome{Regressed: true}
	}

	target := mapping.Stage - 1
	for i := range job.Stages {
		st := &job.Stages[i]
		switch {
		case i < target:
			markCompleted(st)
		case i == target:
			if st.Status == model.StageStatusActive && m.Progress == nil {
				st.Message = mapping.Display
				break
			}
			st.Status = model.StageStatusActive
			st.Message = mapping.Display
			st.Progress = copyProgress(m.Progress)
		default:
			*st = model.StageState{Key: st.Key, Name: st.Name, Status: model.StageStatusPending}
		}
	}
	job.CurrentStageIndex = mapping.Stage
	job.AppendLog(now, mapping.Display)
	return Outcome{}
}

func complete(job *model.DocumentJob, m stream.FinalResult, now time.Time) {
	for i := range job.Stages {
		markCompleted(&job.Stages[i])
	}
	job.CurrentStageIndex = StageCount
	job.Status = model.JobStatusCompleted
	job.Result = m.Payload
	job.ErrorDetail = ""
	job.AppendLog(now, "Analysis complete")
}

// Fail moves job to Failed with detail. When markStage is set the active
// stage is marked failed; a job that never reached a stage fails on the
// first one. Later stages are left untouched. Terminal jobs are ignored.
func Fail(job *model.DocumentJob, detail string, markStage bool, now time.Time) bool {
	if job.Status.Terminal() {
		return false
	}
	if markStage && len(job.Stages) > 0 {
		idx := job.ActiveStage()
		if idx < 0 {
			idx = max(job.CurrentStageIndex-1, 0)
		}
		job.Stages[idx].Status = model.StageStatusFailed
		job.CurrentStageIndex = max(job.CurrentStageIndex, idx+1)
	}
	job.Status = model.JobStatusFailed
	job.ErrorDetail = detail
	job.Result = nil
	job.UpdatedAt = now
	job.AppendLog(now, "Failed: "+detail)
	return true
}

func markCompleted(st *model.StageState) {
	full := 100.0
	st.Status = model.StageStatusCompleted
	st.Progress = &full
}

func copyProgress(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
