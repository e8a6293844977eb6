package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/teranos/qaflow/ai/reasoning"
)

// Result is the JSON document stored on a completed job
type Result struct {
	Answer       string               `json:"answer"`
	Category     string               `json:"category"`
	Fragments    []reasoning.Fragment `json:"fragments"`
	Stages       []string             `json:"stages"`
	ReportFormat string               `json:"report_format,omitempty"`
	Degraded     bool                 `json:"degraded"`
}

func (e *Engine) buildResult(run *Run) Result {
	res := Result{
		Category:  string(run.Category),
		Fragments: run.Fragments,
		Stages:    make([]string, 0, len(run.Results)),
		Degraded:  run.degraded(),
	}
	for _, r := range run.Results {
		res.Stages = append(res.Stages, string(r.Stage))
	}

	last := run.Results[len(run.Results)-1]
	res.Answer = answerText(last.Output.Data)
	if last.Stage == reasoning.StageReporting {
		res.ReportFormat = e.cfg.ReportFormat
		var report struct {
			Format string `json:"format"`
		}
		if json.Unmarshal(last.Output.Data, &report) == nil && report.Format != "" {
			res.ReportFormat = report.Format
		}
	}
	return res
}

// answerText pulls the user-facing text out of a final stage output
func answerText(data json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil {
		for _, key := range []string{"answer", "report", "summary"} {
			var s string
			if raw, ok := fields[key]; ok && json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return string(data)
}
