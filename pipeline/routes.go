package pipeline

import (
	_ "embed"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/teranos/qaflow/ai/reasoning"
	"github.com/teranos/qaflow/errors"
)

// RoutesVersionConstraint is the range of route file versions this build understands
const RoutesVersionConstraint = "^1"

//go:embed routes.yaml
var defaultRoutesYAML []byte

type routesFile struct {
	Version string              `yaml:"version"`
	Routes  map[string][]string `yaml:"routes"`
}

// Routes maps each category to its ordered stage list. It is safe for
// concurrent use and can be swapped in place when the route file changes.
type Routes struct {
	mu      sync.RWMutex
	version string
	table   map[reasoning.Category][]reasoning.StageKind
}

// DefaultRoutes returns the embedded route table
func DefaultRoutes() *Routes {
	r, err := ParseRoutes(defaultRoutesYAML)
	if err != nil {
		panic(errors.Wrap(err, "embedded routes.yaml is invalid"))
	}
	return r
}

// LoadRoutes reads a route file. An empty path selects the embedded table.
func LoadRoutes(path string) (*Routes, error) {
	if path == "" {
		return DefaultRoutes(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read routes file %s", path)
	}
	r, err := ParseRoutes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid routes file %s", path)
	}
	return r, nil
}

// ParseRoutes decodes and validates a YAML route table
func ParseRoutes(data []byte) (*Routes, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse routes")
	}

	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}

	table := make(map[reasoning.Category][]reasoning.StageKind, len(f.Routes))
	for name, stages := range f.Routes {
		category, ok := reasoning.ParseCategory(name)
		if !ok {
			return nil, errors.Newf("unknown category %q", name)
		}
		if len(stages) == 0 || stages[0] != string(reasoning.StageClassify) {
			return nil, errors.Newf("route for %s must start with %s", name, reasoning.StageClassify)
		}
		route := make([]reasoning.StageKind, 0, len(stages))
		for i, s := range stages {
			stage := reasoning.StageKind(s)
			if !stage.Known() {
				return nil, errors.Newf("route for %s has unknown stage %q", name, s)
			}
			if i > 0 && stage == reasoning.StageClassify {
				return nil, errors.Newf("route for %s repeats %s", name, reasoning.StageClassify)
			}
			route = append(route, stage)
		}
		table[category] = route
	}

	for _, c := range reasoning.Categories {
		if _, ok := table[c]; !ok {
			return nil, errors.Newf("no route for category %s", c)
		}
	}

	return &Routes{version: f.Version, table: table}, nil
}

func checkVersion(v string) error {
	if v == "" {
		return errors.New("routes file has no version")
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(err, "invalid routes version %s", v)
	}
	constraint, err := semver.NewConstraint(RoutesVersionConstraint)
	if err != nil {
		return errors.Wrap(err, "invalid routes version constraint")
	}
	if !constraint.Check(version) {
		return errors.Newf("routes version %s is not compatible with %s", v, RoutesVersionConstraint)
	}
	return nil
}

// StagesFor returns a copy of the stage list for category.
// Unknown categories get the factual_direct route.
func (r *Routes) StagesFor(category reasoning.Category) []reasoning.StageKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.table[category]
	if !ok {
		route = r.table[reasoning.CategoryFactualDirect]
	}
	out := make([]reasoning.StageKind, len(route))
	copy(out, route)
	return out
}

// Version returns the version string of the loaded table
func (r *Routes) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Replace swaps in the table of other
func (r *Routes) Replace(other *Routes) {
	other.mu.RLock()
	version, table := other.version, other.table
	other.mu.RUnlock()

	r.mu.Lock()
	r.version, r.table = version, table
	r.mu.Unlock()
}

// DominantCategory picks the category shared by the most fragments. Ties go
// to the category with the longer route, then to the earlier category in
// reasoning.Categories. No fragments yields factual_direct.
func (r *Routes) DominantCategory(fragments []reasoning.Fragment) reasoning.Category {
	counts := make(map[reasoning.Category]int, len(reasoning.Categories))
	for _, f := range fragments {
		counts[f.Category]++
	}

	best := reasoning.CategoryFactualDirect
	bestCount, bestLen := 0, 0
	for _, c := range reasoning.Categories {
		n := counts[c]
		if n == 0 {
			continue
		}
		l := len(r.StagesFor(c))
		if n > bestCount || (n == bestCount && l > bestLen) {
			best, bestCount, bestLen = c, n, l
		}
	}
	return best
}
