package pipeline

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/stream"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob() *model.DocumentJob {
	return NewJob("job-1", model.File{Name: "A.pdf", Size: 2048, Type: "application/pdf"}, t0)
}

func status(s string) stream.Message { return stream.Status{Status: s} }

func stageStatuses(job *model.DocumentJob) []model.StageStatus {
	out := make([]model.StageStatus, len(job.Stages))
	for i, st := range job.Stages {
		out[i] = st.Status
	}
	return out
}

func TestNewJob(t *testing.T) {
	job := newTestJob()
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.CurrentStageIndex)
	require.Len(t, job.Stages, StageCount)
	for i, st := range job.Stages {
		assert.Equal(t, Stages()[i].Key, st.Key)
		assert.Equal(t, model.StageStatusPending, st.Status)
	}
	assert.Empty(t, job.Log)
}

func TestStatusTable(t *testing.T) {
	for _, s := range KnownStatuses() {
		m, ok := Lookup(s)
		require.True(t, ok, s)
		assert.GreaterOrEqual(t, m.Stage, 1, s)
		assert.LessOrEqual(t, m.Stage, StageCount, s)
		assert.NotEmpty(t, m.Display, s)
	}
	_, ok := Lookup("Reticulating splines...")
	assert.False(t, ok)
}

func TestApply_FirstMessageStartsProcessing(t *testing.T) {
	job := newTestJob()
	out := Apply(job, status("Extracting text..."), t0.Add(time.Second))

	assert.True(t, out.Changed)
	assert.False(t, out.Terminal)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.CurrentStageIndex)
	assert.Equal(t, []model.StageStatus{
		model.StageStatusActive, model.StageStatusPending, model.StageStatusPending, model.StageStatusPending,
	}, stageStatuses(job))
	assert.Equal(t, "Extracting text from document", job.Stages[0].Message)
	require.Len(t, job.Log, 1)
	assert.Equal(t, 1, job.Log[0].Stage)
}

func TestApply_SkippedStagesAreCompleted(t *testing.T) {
	job := newTestJob()
	p := 40.0
	Apply(job, stream.Status{Status: "Analyzing clauses...", Progress: &p}, t0)

	assert.Equal(t, 3, job.CurrentStageIndex)
	assert.Equal(t, []model.StageStatus{
		model.StageStatusCompleted, model.StageStatusCompleted, model.StageStatusActive, model.StageStatusPending,
	}, stageStatuses(job))
	require.NotNil(t, job.Stages[2].Progress)
	assert.InDelta(t, 40.0, *job.Stages[2].Progress, 0.001)
}

func TestApply_SameStageUpdatesMessageAndProgress(t *testing.T) {
	job := newTestJob()
	p := 10.0
	Apply(job, stream.Status{Status: "Splitting PDF...", Progress: &p}, t0)
	Apply(job, status("Extracting text..."), t0)

	st := job.Stages[0]
	assert.Equal(t, model.StageStatusActive, st.Status)
	assert.Equal(t, "Extracting text from document", st.Message)
	require.NotNil(t, st.Progress)
	assert.InDelta(t, 10.0, *st.Progress, 0.001)

	q := 80.0
	Apply(job, stream.Status{Status: "Extracting text...", Progress: &q}, t0)
	assert.InDelta(t, 80.0, *job.Stages[0].Progress, 0.001)
}

func TestApply_RegressionIgnoredForStages(t *testing.T) {
	job := newTestJob()
	Apply(job, status("Translating..."), t0)
	out := Apply(job, status("Extracting text..."), t0)

	assert.True(t, out.Regressed)
	assert.Equal(t, 2, job.CurrentStageIndex)
	assert.Equal(t, model.StageStatusActive, job.Stages[1].Status)
	assert.Equal(t, model.StageStatusCompleted, job.Stages[0].Status)
	assert.Len(t, job.Log, 2)
}

func TestApply_UnmappedStatusOnlyLogged(t *testing.T) {
	job := newTestJob()
	Apply(job, status("Extracting text..."), t0)
	before := job.Clone()

	out := Apply(job, status("Warming up GPUs"), t0)
	assert.True(t, out.Unmapped)
	assert.Equal(t, before.Stages, job.Stages)
	assert.Equal(t, before.CurrentStageIndex, job.CurrentStageIndex)
	require.Len(t, job.Log, 2)
	assert.Equal(t, "Warming up GPUs", job.Log[1].Message)
}

func TestApply_FinalResultCompletesEverything(t *testing.T) {
	prefixes := [][]string{
		nil,
		{"Extracting text..."},
		{"Analyzing clauses...", "Translating..."},
		{"Finalizing..."},
		{"unknown", "Splitting PDF..."},
	}
	for _, prefix := range prefixes {
		job := newTestJob()
		for _, s := range prefix {
			Apply(job, status(s), t0)
		}
		out := Apply(job, stream.FinalResult{Payload: json.RawMessage(`{"risk":{"level":"Low"}}`)}, t0)

		assert.True(t, out.Terminal, prefix)
		assert.Equal(t, model.JobStatusCompleted, job.Status, prefix)
		assert.Equal(t, StageCount, job.CurrentStageIndex, prefix)
		for _, st := range job.Stages {
			assert.Equal(t, model.StageStatusCompleted, st.Status, prefix)
		}
		assert.JSONEq(t, `{"risk":{"level":"Low"}}`, string(job.Result))
		assert.Empty(t, job.ErrorDetail)
	}
}

func TestApply_ErrorHaltsTransitions(t *testing.T) {
	job := newTestJob()
	Apply(job, status("Extracting text..."), t0)
	Apply(job, status("Translating..."), t0)
	out := Apply(job, stream.ErrorEvent{Detail: "Server error"}, t0)

	assert.True(t, out.Terminal)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Equal(t, "Server error", job.ErrorDetail)
	assert.Equal(t, []model.StageStatus{
		model.StageStatusCompleted, model.StageStatusFailed, model.StageStatusPending, model.StageStatusPending,
	}, stageStatuses(job))

	snapshot := job.Clone()
	for _, msg := range []stream.Message{
		status("Finalizing..."),
		stream.FinalResult{Payload: json.RawMessage(`{}`)},
		stream.ErrorEvent{Detail: "again"},
	} {
		out := Apply(job, msg, t0.Add(time.Hour))
		assert.False(t, out.Changed)
		assert.True(t, out.Terminal)
	}
	assert.Equal(t, snapshot, job)
	assert.Nil(t, job.Result)
}

func TestFail_BeforeAnyStage(t *testing.T) {
	t.Run("transport failure marks first stage", func(t *testing.T) {
		job := newTestJob()
		require.True(t, Fail(job, "connection error: refused", true, t0))
		assert.Equal(t, model.StageStatusFailed, job.Stages[0].Status)
		assert.Equal(t, 1, job.CurrentStageIndex)
	})

	t.Run("validation failure leaves stages pending", func(t *testing.T) {
		job := newTestJob()
		require.True(t, Fail(job, "unsupported file type", false, t0))
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.Equal(t, 0, job.CurrentStageIndex)
		for _, st := range job.Stages {
			assert.Equal(t, model.StageStatusPending, st.Status)
		}
	})

	t.Run("terminal job ignored", func(t *testing.T) {
		job := newTestJob()
		Apply(job, stream.FinalResult{Payload: json.RawMessage(`{}`)}, t0)
		assert.False(t, Fail(job, "late", true, t0))
		assert.Equal(t, model.JobStatusCompleted, job.Status)
	})
}

func TestApply_IndexNeverDecreases(t *testing.T) {
	vocabulary := append(KnownStatuses(), "Something new", "Queued on worker")
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 200; run++ {
		job := newTestJob()
		prev := job.CurrentStageIndex
		for step := 0; step < 20; step++ {
			msg := status(vocabulary[rng.IntN(len(vocabulary))])
			Apply(job, msg, t0)
			require.GreaterOrEqual(t, job.CurrentStageIndex, prev)
			prev = job.CurrentStageIndex

			active := 0
			for _, st := range job.Stages {
				if st.Status == model.StageStatusActive {
					active++
				}
			}
			require.LessOrEqual(t, active, 1)
		}
	}
}
