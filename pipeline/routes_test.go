package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/reasoning"
)

func TestDefaultRoutes(t *testing.T) {
	r := DefaultRoutes()
	assert.Equal(t, "1.0.0", r.Version())

	tests := []struct {
		category reasoning.Category
		want     []reasoning.StageKind
	}{
		{reasoning.CategoryFactualDirect, []reasoning.StageKind{"classify", "lookup"}},
		{reasoning.CategoryInferential, []reasoning.StageKind{"classify", "metadata_retrieval", "analysis"}},
		{reasoning.CategoryDiagnostic, []reasoning.StageKind{"classify", "metadata_retrieval", "analysis"}},
		{reasoning.CategoryProcedural, []reasoning.StageKind{"classify", "task_planning", "reporting"}},
		{reasoning.CategoryStrategicPlanning, []reasoning.StageKind{"classify", "task_planning", "metadata_retrieval", "query_execution", "reporting"}},
		{reasoning.CategoryPredictive, []reasoning.StageKind{"classify", "task_planning", "metadata_retrieval", "query_execution", "reporting"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.StagesFor(tt.category), string(tt.category))
	}
}

func TestStagesForReturnsCopy(t *testing.T) {
	r := DefaultRoutes()
	route := r.StagesFor(reasoning.CategoryFactualDirect)
	route[1] = reasoning.StageReporting
	assert.Equal(t, reasoning.StageLookup, r.StagesFor(reasoning.CategoryFactualDirect)[1])
}

func TestParseRoutesRejects(t *testing.T) {
	full := `
  inferential: [classify, analysis]
  diagnostic: [classify, analysis]
  procedural: [classify, reporting]
  strategic_planning: [classify, reporting]
  predictive: [classify, reporting]`

	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", "routes:\n  factual_direct: [classify, lookup]" + full},
		{"incompatible version", "version: 2.0.0\nroutes:\n  factual_direct: [classify, lookup]" + full},
		{"missing category", "version: 1.0.0\nroutes:\n  factual_direct: [classify, lookup]"},
		{"unknown category", "version: 1.0.0\nroutes:\n  gossip: [classify]\n  factual_direct: [classify, lookup]" + full},
		{"no classify first", "version: 1.0.0\nroutes:\n  factual_direct: [lookup]" + full},
		{"unknown stage", "version: 1.0.0\nroutes:\n  factual_direct: [classify, divination]" + full},
		{"repeated classify", "version: 1.0.0\nroutes:\n  factual_direct: [classify, classify]" + full},
		{"not yaml", "version: [1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDominantCategory(t *testing.T) {
	r := DefaultRoutes()
	frag := func(c reasoning.Category) reasoning.Fragment { return reasoning.Fragment{Category: c} }

	tests := []struct {
		name      string
		fragments []reasoning.Fragment
		want      reasoning.Category
	}{
		{"none", nil, reasoning.CategoryFactualDirect},
		{"single", []reasoning.Fragment{frag(reasoning.CategoryDiagnostic)}, reasoning.CategoryDiagnostic},
		{"majority", []reasoning.Fragment{
			frag(reasoning.CategoryProcedural), frag(reasoning.CategoryFactualDirect), frag(reasoning.CategoryProcedural),
		}, reasoning.CategoryProcedural},
		{"tie goes to longer route", []reasoning.Fragment{
			frag(reasoning.CategoryFactualDirect), frag(reasoning.CategoryPredictive),
		}, reasoning.CategoryPredictive},
		{"equal routes go to earlier category", []reasoning.Fragment{
			frag(reasoning.CategoryDiagnostic), frag(reasoning.CategoryInferential),
		}, reasoning.CategoryInferential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.DominantCategory(tt.fragments))
		})
	}
}

func TestLoadRoutes(t *testing.T) {
	r, err := LoadRoutes("")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", r.Version())

	_, err = LoadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRoutesWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, defaultRoutesYAML, 0600))

	routes, err := LoadRoutes(path)
	require.NoError(t, err)

	w, err := NewRoutesWatcher(path, routes, zap.NewNop().Sugar())
	require.NoError(t, err)
	reloaded := make(chan struct{}, 1)
	w.OnReload(func(*Routes) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	w.Start()
	defer w.Stop()

	updated := []byte(`version: 1.1.0
routes:
  factual_direct: [classify, analysis]
  inferential: [classify, analysis]
  diagnostic: [classify, analysis]
  procedural: [classify, reporting]
  strategic_planning: [classify, reporting]
  predictive: [classify, reporting]
`)
	require.NoError(t, os.WriteFile(path, updated, 0600))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("routes were not reloaded")
	}
	assert.Equal(t, "1.1.0", routes.Version())
	assert.Equal(t, []reasoning.StageKind{"classify", "analysis"}, routes.StagesFor(reasoning.CategoryFactualDirect))
}

func TestRoutesWatcherKeepsTableOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, defaultRoutesYAML, 0600))
	routes, err := LoadRoutes(path)
	require.NoError(t, err)

	w, err := NewRoutesWatcher(path, routes, zap.NewNop().Sugar())
	require.NoError(t, err)
	w.reload()
	require.NoError(t, os.WriteFile(path, []byte("version: 9.0.0\nroutes: {}\n"), 0600))
	w.reload()
	require.NoError(t, w.Stop())

	assert.Equal(t, "1.0.0", routes.Version())
}
