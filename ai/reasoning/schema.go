package reasoning

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teranos/qaflow/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[StageKind]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[StageKind]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiled := make(map[StageKind]*jsonschema.Schema, len(StageKinds))
		for _, stage := range StageKinds {
			name := fmt.Sprintf("schemas/%s.json", stage)
			b, err := schemaFS.ReadFile(name)
			if err != nil {
				schemasErr = errors.Wrapf(err, "read schema for %s", stage)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = errors.Wrapf(err, "add schema for %s", stage)
				return
			}
			s, err := compiler.Compile(name)
			if err != nil {
				schemasErr = errors.Wrapf(err, "compile schema for %s", stage)
				return
			}
			compiled[stage] = s
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// Validate checks data against the schema of stage
func Validate(stage StageKind, data []byte) error {
	compiled, err := compileSchemas()
	if err != nil {
		return err
	}
	s, ok := compiled[stage]
	if !ok {
		return errors.Newf("no schema for stage %q", stage)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "unmarshal stage output")
	}
	if err := s.Validate(v); err != nil {
		return errors.Wrapf(err, "%s output does not match schema", stage)
	}
	return nil
}

// DefaultPlan is the execution plan used when the planner reply is unusable
var DefaultPlan = []PlanStep{
	{StepType: string(StageMetadataRetrieval), Description: "Identify the data sources relevant to the question"},
	{StepType: string(StageQueryExecution), Description: "Collect the facts needed to answer the question"},
	{StepType: string(StageReporting), Description: "Summarise the findings for the user"},
}

// PlanStep is one entry of a task_planning output
type PlanStep struct {
	StepType    string `json:"step_type"`
	Description string `json:"description"`
}

// Fallback returns the deterministic output for stage when the reply text
// could not be turned into a valid object. The raw text is preserved where
// the stage has a free-text field for it.
func Fallback(stage StageKind, raw string, payload Payload) json.RawMessage {
	text := strings.TrimSpace(raw)
	var v any
	switch stage {
	case StageClassify:
		v = map[string]any{"category": CategoryFactualDirect}
	case StageLookup:
		v = map[string]any{"answer": text}
	case StageAnalysis:
		v = map[string]any{"answer": text, "confidence": "low"}
	case StageTaskPlanning:
		v = map[string]any{"steps": DefaultPlan, "goal": payload.Question}
	case StageMetadataRetrieval:
		v = map[string]any{"sources": []any{}, "notes": text}
	case StageQueryExecution:
		v = map[string]any{"findings": []string{}, "notes": text}
	case StageReporting:
		format := payload.ReportFormat
		if format == "" {
			format = ReportSummary
		}
		v = map[string]any{"report": text, "format": format}
	default:
		v = map[string]any{"text": text}
	}
	b, _ := json.Marshal(v)
	return b
}
