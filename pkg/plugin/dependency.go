package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/manifest"
)

// DependencyGraph maps plugin IDs to their manifests and dependency edges.
type DependencyGraph struct {
	Nodes map[string]*manifest.Manifest
	Edges map[string][]string
}

// DependencyResolver computes load order and validates inter-plugin
// dependency constraints.
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a dependency resolver.
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// BuildGraph builds a dependency graph from manifests.
func (r *DependencyResolver) BuildGraph(manifests map[string]*manifest.Manifest) *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: make(map[string]*manifest.Manifest, len(manifests)),
		Edges: make(map[string][]string, len(manifests)),
	}

	for id, m := range manifests {
		graph.Nodes[id] = m
		graph.Edges[id] = []string{}
	}
	for id, m := range graph.Nodes {
		for _, dep := range m.Dependencies {
			graph.Edges[id] = append(graph.Edges[id], dep.PluginID)
		}
	}

	return graph
}

// DetectCycles finds dependency cycles using DFS. Each cycle is a list of
// plugin IDs in traversal order.
func (r *DependencyResolver) DetectCycles(graph *DependencyGraph) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := []string{}

	var dfs func(string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, depID := range graph.Edges[id] {
			if !visited[depID] {
				if dfs(depID) {
					return true
				}
			} else if recStack[depID] {
				cycleStart := -1
				for i, node := range path {
					if node == depID {
						cycleStart = i
						break
					}
				}
				if cycleStart >= 0 {
					cycle := make([]string, len(path)-cycleStart)
					copy(cycle, path[cycleStart:])
					cycles = append(cycles, cycle)
				}
				return true
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
		return false
	}

	for id := range graph.Nodes {
		if !visited[id] {
			dfs(id)
		}
	}

	if len(cycles) > 0 {
		r.logger.Warn().Int("count", len(cycles)).Msg("Detected dependency cycles")
	}
	return cycles
}

// Validate checks that every declared dependency exists in the graph and
// satisfies its semver constraint. Returns per-plugin errors.
func (r *DependencyResolver) Validate(graph *DependencyGraph) map[string]error {
	errors := make(map[string]error)

	for id, m := range graph.Nodes {
		for _, dep := range m.Dependencies {
			depManifest, exists := graph.Nodes[dep.PluginID]
			if !exists {
				errors[id] = fmt.Errorf("missing dependency: %s", dep.PluginID)
				r.logger.Error().
					Str("plugin", id).
					Str("dependency", dep.PluginID).
					Msg("Missing dependency")
				continue
			}

			if dep.Version == "" {
				continue
			}
			if err := checkConstraint(depManifest.Version, dep.Version); err != nil {
				errors[id] = fmt.Errorf("incompatible dependency version for %s: %w", dep.PluginID, err)
				r.logger.Error().
					Str("plugin", id).
					Str("dependency", dep.PluginID).
					Str("required", dep.Version).
					Str("actual", depManifest.Version).
					Msg("Incompatible dependency version")
			}
		}
	}

	return errors
}

func checkConstraint(version, constraint string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}
	return nil
}

// LoadOrder performs a topological sort: dependencies before dependents.
func (r *DependencyResolver) LoadOrder(graph *DependencyGraph) ([]string, error) {
	cycles := r.DetectCycles(graph)
	if len(cycles) > 0 {
		return nil, fmt.Errorf("cannot sort graph with cycles: %v", cycles)
	}

	var sorted []string
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(string) error
	visit = func(id string) error {
		if temp[id] {
			return fmt.Errorf("cycle detected at %s", id)
		}
		if visited[id] {
			return nil
		}
		temp[id] = true
		for _, depID := range graph.Edges[id] {
			if err := visit(depID); err != nil {
				return err
			}
		}
		temp[id] = false
		visited[id] = true
		sorted = append(sorted, id)
		return nil
	}

	for id := range graph.Nodes {
		if !visited[id] {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	r.logger.Debug().
		Int("count", len(sorted)).
		Strs("order", sorted).
		Msg("Computed load order")

	return sorted, nil
}

// Dependents returns the plugins that declare a dependency on pluginID.
func (r *DependencyResolver) Dependents(graph *DependencyGraph, pluginID string) []string {
	var dependents []string
	for id, deps := range graph.Edges {
		for _, depID := range deps {
			if depID == pluginID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
