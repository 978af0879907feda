package plugin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori/plughost/pkg/manifest"
)

func mf(id, version string, deps ...manifest.Dependency) *manifest.Manifest {
	return &manifest.Manifest{
		ID:           id,
		Version:      version,
		Type:         manifest.TypeFrontend,
		Main:         "index.js",
		Dependencies: deps,
	}
}

func dep(id, constraint string) manifest.Dependency {
	return manifest.Dependency{PluginID: id, Version: constraint}
}

func TestBuildGraph(t *testing.T) {
	r := NewDependencyResolver(zerolog.Nop())

	graph := r.BuildGraph(map[string]*manifest.Manifest{
		"a": mf("a", "1.0.0", dep("b", "")),
		"b": mf("b", "1.0.0"),
	})

	assert.Len(t, graph.Nodes, 2)
	assert.Equal(t, []string{"b"}, graph.Edges["a"])
	assert.Empty(t, graph.Edges["b"])
}

func TestDetectCycles(t *testing.T) {
	r := NewDependencyResolver(zerolog.Nop())

	t.Run("acyclic", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", "")),
			"b": mf("b", "1.0.0", dep("c", "")),
			"c": mf("c", "1.0.0"),
		})
		assert.Empty(t, r.DetectCycles(graph))
	})

	t.Run("two-node cycle", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", "")),
			"b": mf("b", "1.0.0", dep("a", "")),
		})
		cycles := r.DetectCycles(graph)
		require.Len(t, cycles, 1)
		assert.Len(t, cycles[0], 2)
	})

	t.Run("self cycle", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("a", "")),
		})
		assert.Len(t, r.DetectCycles(graph), 1)
	})
}

func TestValidateDependencies(t *testing.T) {
	r := NewDependencyResolver(zerolog.Nop())

	t.Run("satisfied constraints", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", "^2.0.0")),
			"b": mf("b", "2.3.1"),
		})
		assert.Empty(t, r.Validate(graph))
	})

	t.Run("missing dependency", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("ghost", "")),
		})
		errs := r.Validate(graph)
		require.Contains(t, errs, "a")
		assert.Contains(t, errs["a"].Error(), "missing dependency")
	})

	t.Run("incompatible version", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", ">=3.0.0")),
			"b": mf("b", "2.0.0"),
		})
		errs := r.Validate(graph)
		require.Contains(t, errs, "a")
		assert.Contains(t, errs["a"].Error(), "incompatible")
	})

	t.Run("empty constraint matches any version", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", "")),
			"b": mf("b", "0.0.1"),
		})
		assert.Empty(t, r.Validate(graph))
	})
}

func TestLoadOrder(t *testing.T) {
	r := NewDependencyResolver(zerolog.Nop())

	t.Run("dependencies come first", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"app":  mf("app", "1.0.0", dep("lib", ""), dep("util", "")),
			"lib":  mf("lib", "1.0.0", dep("util", "")),
			"util": mf("util", "1.0.0"),
		})

		order, err := r.LoadOrder(graph)
		require.NoError(t, err)
		require.Len(t, order, 3)

		pos := make(map[string]int)
		for i, id := range order {
			pos[id] = i
		}
		assert.Less(t, pos["util"], pos["lib"])
		assert.Less(t, pos["lib"], pos["app"])
	})

	t.Run("cycle fails", func(t *testing.T) {
		graph := r.BuildGraph(map[string]*manifest.Manifest{
			"a": mf("a", "1.0.0", dep("b", "")),
			"b": mf("b", "1.0.0", dep("a", "")),
		})
		_, err := r.LoadOrder(graph)
		assert.Error(t, err)
	})
}

func TestDependents(t *testing.T) {
	r := NewDependencyResolver(zerolog.Nop())

	graph := r.BuildGraph(map[string]*manifest.Manifest{
		"a": mf("a", "1.0.0", dep("lib", "")),
		"b": mf("b", "1.0.0", dep("lib", "")),
		"c": mf("c", "1.0.0"),
	})

	assert.ElementsMatch(t, []string{"a", "b"}, r.Dependents(graph, "lib"))
	assert.Empty(t, r.Dependents(graph, "c"))
}
