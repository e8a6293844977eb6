// Package reasoning adapts an LLM provider into typed pipeline stage calls.
//
// Each Invoke sends one stage request, extracts a JSON object from the
// loosely formatted reply, validates it against the stage schema and falls
// back to a deterministic value when extraction fails. Transport problems are
// reported as *Failure values; the client never retries on its own.
package reasoning

import (
	"context"
	"encoding/json"
)

// StageKind names one pipeline stage
type StageKind string

const (
	StageClassify          StageKind = "classify"
	StageLookup            StageKind = "lookup"
	StageTaskPlanning      StageKind = "task_planning"
	StageMetadataRetrieval StageKind = "metadata_retrieval"
	StageQueryExecution    StageKind = "query_execution"
	StageAnalysis          StageKind = "analysis"
	StageReporting         StageKind = "reporting"
)

// StageKinds lists every known stage
var StageKinds = []StageKind{
	StageClassify,
	StageLookup,
	StageTaskPlanning,
	StageMetadataRetrieval,
	StageQueryExecution,
	StageAnalysis,
	StageReporting,
}

// Known reports whether k is a stage this client can run
func (k StageKind) Known() bool {
	for _, s := range StageKinds {
		if s == k {
			return true
		}
	}
	return false
}

// Category is the closed set of question types produced by classification
type Category string

const (
	CategoryFactualDirect     Category = "factual_direct"
	CategoryInferential       Category = "inferential"
	CategoryProcedural        Category = "procedural"
	CategoryDiagnostic        Category = "diagnostic"
	CategoryStrategicPlanning Category = "strategic_planning"
	CategoryPredictive        Category = "predictive"
)

// Categories lists the closed set in its fixed order
var Categories = []Category{
	CategoryFactualDirect,
	CategoryInferential,
	CategoryProcedural,
	CategoryDiagnostic,
	CategoryStrategicPlanning,
	CategoryPredictive,
}

// ParseCategory normalises s and reports whether it names a known category
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Fragment is one independently classified sub-question
type Fragment struct {
	Text     string   `json:"question_fragment"`
	Category Category `json:"category"`
}

// ReportFormat values accepted by the reporting stage
const (
	ReportSummary   = "summary"
	ReportDetailed  = "detailed"
	ReportExecutive = "executive"
)

// Payload is the stage request sent to the reasoning service
type Payload struct {
	StageKind    StageKind                  `json:"stage_kind"`
	Question     string                     `json:"question"`
	Context      json.RawMessage            `json:"context,omitempty"`
	PriorOutputs map[string]json.RawMessage `json:"prior_outputs,omitempty"`
	CurrentDate  string                     `json:"current_date"`
	ReportFormat string                     `json:"report_format,omitempty"`
}

// StageOutput is the structured result of one stage.
// Degraded is set when the deterministic fallback replaced an unparseable reply.
type StageOutput struct {
	Stage     StageKind       `json:"stage"`
	Data      json.RawMessage `json:"data"`
	Fragments []Fragment      `json:"fragments,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
}

// Client invokes pipeline stages against a reasoning service
type Client interface {
	Invoke(ctx context.Context, stage StageKind, payload Payload) (*StageOutput, error)
}
