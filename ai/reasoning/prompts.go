package reasoning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const classifySystemPrompt = `You classify a single user question into exactly one category.

Categories:
- factual_direct: asks for a fact that can be looked up directly
- inferential: needs reasoning over several facts to reach a conclusion
- procedural: asks how to do something, step by step
- diagnostic: asks why something happened or what is wrong
- strategic_planning: asks for a plan or recommendation about future action
- predictive: asks what will happen in the future

Today's date is %s. Questions about events on or before today are factual_direct,
even when phrased like a forecast. Only events strictly after today may be
predictive or strategic_planning.

Reply with one JSON object and nothing else:
{"category": "<category>", "confidence": <0..1>, "reasoning": "<one sentence>", "time_reference": "past|present|future|none"}`

var stageInstructions = map[StageKind]string{
	StageLookup: `Answer the question directly and concisely.
Reply with one JSON object: {"answer": "<answer>", "sources": ["<source>", ...]}`,

	StageTaskPlanning: `Break the question into an ordered execution plan.
Valid step types are metadata_retrieval, query_execution, analysis and reporting.
Reply with one JSON object: {"goal": "<goal>", "steps": [{"step_type": "<type>", "description": "<what to do>"}]}`,

	StageMetadataRetrieval: `List the data sources, documents or fields needed to answer the question.
Reply with one JSON object: {"sources": [{"name": "<source>", "fields": ["<field>"], "relevance": "<why>"}], "notes": "<notes>"}`,

	StageQueryExecution: `Using the plan and sources from earlier stages, state the concrete findings that answer the question.
Reply with one JSON object: {"findings": ["<finding>", ...], "notes": "<notes>"}`,

	StageAnalysis: `Reason over the information from earlier stages and answer the question.
Reply with one JSON object: {"answer": "<answer>", "evidence": ["<point>", ...], "confidence": "low|medium|high"}`,

	StageReporting: `Write the final report for the user from the earlier stage outputs.
A summary report is a short paragraph. A detailed report covers every finding.
An executive report leads with the recommendation in two or three sentences.
Reply with one JSON object: {"report": "<report>", "format": "%s", "highlights": ["<point>", ...]}`,
}

func systemPrompt(stage StageKind, p Payload) string {
	if stage == StageClassify {
		return fmt.Sprintf(classifySystemPrompt, p.CurrentDate)
	}
	instructions := stageInstructions[stage]
	if stage == StageReporting {
		format := p.ReportFormat
		if format == "" {
			format = ReportSummary
		}
		instructions = fmt.Sprintf(instructions, format)
	}
	return fmt.Sprintf("You are the %s stage of a question answering pipeline. Today's date is %s.\n\n%s",
		stage, p.CurrentDate, instructions)
}

func userPrompt(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", p.Question)

	if len(p.Context) > 0 && string(p.Context) != "{}" && string(p.Context) != "null" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", p.Context)
	}

	if len(p.PriorOutputs) > 0 {
		names := make([]string, 0, len(p.PriorOutputs))
		for name := range p.PriorOutputs {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nOutputs of earlier stages:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "[%s]\n%s\n", name, compact(p.PriorOutputs[name]))
		}
	}
	return b.String()
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(b)
}
