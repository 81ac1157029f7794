package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/domain/pipeline"
	"github.com/target/docflow/internal/util"
)

var (
	nameColor    = color.New(color.Bold)
	stageColor   = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	faintColor   = color.New(color.Faint)
)

// progressPrinter prints each job's new log entries as they arrive.
type progressPrinter struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, printed: make(map[string]int)}
}

func (p *progressPrinter) event(ev model.JobEvent) {
	if ev.Kind != model.JobEventUpserted || ev.Job == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	j := ev.Job
	for _, entry := range j.Log[min(p.printed[j.ID], len(j.Log)):] {
		fmt.Fprintln(p.out, progressLine(j, entry))
	}
	p.printed[j.ID] = len(j.Log)
}

func progressLine(j *model.DocumentJob, entry model.LogEntry) string {
	stage := faintColor.Sprint("[-/4]")
	if entry.Stage > 0 {
		stage = stageColor.Sprintf("[%d/%d]", entry.Stage, pipeline.StageCount)
	}
	msg := entry.Message
	switch {
	case j.Status == model.JobStatusFailed && strings.HasPrefix(msg, "Failed"):
		msg = failColor.Sprint(msg)
	case j.Status == model.JobStatusCompleted && entry.Stage == pipeline.StageCount:
		msg = successColor.Sprint(msg)
	}
	return fmt.Sprintf("%s %s %s", stage, nameColor.Sprint(j.Name), msg)
}

// summaryLine is the one-line outcome of a finished job.
func summaryLine(j *model.DocumentJob) string {
	var b strings.Builder
	b.WriteString(nameColor.Sprint(j.Name))
	fmt.Fprintf(&b, " (%s)", model.FormatFileSize(j.Size))

	switch j.Status {
	case model.JobStatusCompleted:
		b.WriteString(" " + successColor.Sprint("completed"))
		if risk, ok := pipeline.Risk(j.Result); ok {
			b.WriteString(" risk=" + riskColor(risk.Level).Sprint(risk.Level))
			if risk.Details != "" {
				b.WriteString(" " + faintColor.Sprint(risk.Details))
			}
		}
	case model.JobStatusFailed:
		b.WriteString(" " + failColor.Sprint("failed") + ": " + j.ErrorDetail)
	default:
		b.WriteString(" " + warnColor.Sprint(string(j.Status)))
	}
	fmt.Fprintf(&b, " in %s", util.FormatElapsed(j.UpdatedAt.Sub(j.SubmittedAt)))
	return b.String()
}

func riskColor(level string) *color.Color {
	switch strings.ToLower(level) {
	case "high", "critical":
		return failColor
	case "medium", "moderate":
		return warnColor
	case "low":
		return successColor
	default:
		return nameColor
	}
}

// project evaluates a JMESPath expression against a result payload and
// renders the match as indented JSON.
func project(result json.RawMessage, expr string) (string, error) {
	var data any
	if err := json.Unmarshal(result, &data); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	out, err := jmespath.Search(expr, data)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", expr, err)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode query result: %w", err)
	}
	return string(b), nil
}
