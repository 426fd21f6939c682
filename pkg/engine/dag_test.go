package engine

import (
	"strings"
	"testing"
)

func TestDependencyGraph_Build_Empty(t *testing.T) {
	graph, err := BuildDependencyGraph(map[ResourceID][]ResourceID{})
	if err != nil {
		t.Fatalf("Expected no error for empty graph, got: %v", err)
	}

	if graph.Len() != 0 {
		t.Errorf("Expected 0 nodes, got %d", graph.Len())
	}

	if len(graph.Levels()) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(graph.Levels()))
	}
}

func TestDependencyGraph_Build_Linear(t *testing.T) {
	a, b, c := rid("a"), rid("b"), rid("c")
	graph, err := BuildDependencyGraph(map[ResourceID][]ResourceID{
		a: nil,
		b: {a},
		c: {b},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(graph.Levels()) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(graph.Levels()))
	}

	for want, id := range []ResourceID{a, b, c} {
		if got := graph.Level(id); got != want {
			t.Errorf("Expected %s at level %d, got %d", id, want, got)
		}
	}

	if graph.Level(rid("missing")) != -1 {
		t.Errorf("Expected level -1 for unknown resource")
	}
}

func TestDependencyGraph_Build_Diamond(t *testing.T) {
	a, b, c, d := rid("a"), rid("b"), rid("c"), rid("d")
	graph, err := BuildDependencyGraph(map[ResourceID][]ResourceID{
		a: nil,
		b: {a},
		c: {a},
		d: {b, c, b},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := graph.Levels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(levels))
	}

	if len(levels[1]) != 2 || levels[1][0] != b || levels[1][1] != c {
		t.Errorf("Expected sorted level [%s %s], got %v", b, c, levels[1])
	}

	if graph.Level(d) != 2 {
		t.Errorf("Expected d at level 2, got %d", graph.Level(d))
	}
}

func TestDependencyGraph_DetectCycles(t *testing.T) {
	a, b, c := rid("a"), rid("b"), rid("c")
	_, err := BuildDependencyGraph(map[ResourceID][]ResourceID{
		a: {c},
		b: {a},
		c: {b},
	})
	if err == nil {
		t.Fatal("Expected error for circular dependency, got nil")
	}

	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}

	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("Expected circular dependency message, got: %v", err)
	}
}

func TestDependencyGraph_SelfRequirement(t *testing.T) {
	a := rid("a")
	_, err := BuildDependencyGraph(map[ResourceID][]ResourceID{a: {a}})
	if err == nil {
		t.Fatal("Expected error for self requirement, got nil")
	}

	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestDependencyGraph_MissingRequirement(t *testing.T) {
	a := rid("a")
	_, err := BuildDependencyGraph(map[ResourceID][]ResourceID{a: {rid("ghost")}})
	if err == nil {
		t.Fatal("Expected error for missing requirement, got nil")
	}

	if !strings.Contains(err.Error(), "non-existent") {
		t.Errorf("Expected non-existent resource message, got: %v", err)
	}
}

func TestDependencyGraph_ToDOT(t *testing.T) {
	a, b := rid("a"), ResourceID(`test::Resource[agent1,key="quoted"]`)
	graph, err := BuildDependencyGraph(map[ResourceID][]ResourceID{
		a: nil,
		b: {a},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := graph.ToDOT(func(id ResourceID) HandlerState {
		if id == a {
			return HandlerStateDeployed
		}
		return HandlerStateFailed
	})

	if !strings.HasPrefix(dot, "digraph Model {") {
		t.Errorf("Expected DOT header, got: %s", dot)
	}

	for _, want := range []string{
		"cluster_level_0",
		"cluster_level_1",
		"lightgreen",
		"lightcoral",
		`\"quoted\"`,
		`"` + string(a) + `" -> "test::Resource[agent1,key=\"quoted\"]";`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q", want)
		}
	}

	plain := graph.ToDOT(nil)
	if strings.Contains(plain, "lightgreen") {
		t.Errorf("Expected no state colors without a state function")
	}
}
