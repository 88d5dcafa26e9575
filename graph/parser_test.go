// ABOUTME: Tests for the DOT-like recursive-descent parser: attrs, chains, defaults, subgraphs.
package graph

import "testing"

func TestParse_GraphAttrsAndChain(t *testing.T) {
	src := `
digraph pipeline {
  goal = "ship it"
  default_max_retry = 3
  start [shape=Mdiamond]
  a [shape=box]
  b [shape=box]
  exit [shape=Msquare]
  start -> a -> b -> exit
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if g.Goal() != "ship it" {
		t.Errorf("expected goal %q, got %q", "ship it", g.Goal())
	}
	if g.DefaultMaxRetry() != 3 {
		t.Errorf("expected default_max_retry 3, got %d", g.DefaultMaxRetry())
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}
	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 chained edges, got %d", len(g.Edges))
	}
	wantPairs := [][2]string{{"start", "a"}, {"a", "b"}, {"b", "exit"}}
	for i, e := range g.Edges {
		if e.From != wantPairs[i][0] || e.To != wantPairs[i][1] {
			t.Errorf("edge %d: expected %v, got {%s %s}", i, wantPairs[i], e.From, e.To)
		}
	}
}

func TestParse_NodeAndEdgeAttributes(t *testing.T) {
	src := `
digraph g {
  gate [shape=diamond]
  exit [shape=Msquare]
  implement [shape=box]
  gate -> exit [condition="outcome=success", weight=10, label="done"]
  gate -> implement [condition="outcome!=success"]
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	edges := g.OutgoingEdges("gate")
	if len(edges) != 2 {
		t.Fatalf("expected 2 outgoing edges from gate, got %d", len(edges))
	}
	if edges[0].Weight() != 10 {
		t.Errorf("expected weight 10, got %d", edges[0].Weight())
	}
	if edges[0].Label() != "done" {
		t.Errorf("expected label %q, got %q", "done", edges[0].Label())
	}
	if edges[1].Condition() != "outcome!=success" {
		t.Errorf("expected condition %q, got %q", "outcome!=success", edges[1].Condition())
	}
}

func TestParse_NodeDefaults(t *testing.T) {
	src := `
digraph g {
  node [fidelity=compact]
  a [shape=box]
  b [shape=box, fidelity=full]
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if g.Nodes["a"].Attrs["fidelity"] != "compact" {
		t.Errorf("expected node default fidelity to apply to a, got %q", g.Nodes["a"].Attrs["fidelity"])
	}
	if g.Nodes["b"].Attrs["fidelity"] != "full" {
		t.Errorf("expected explicit node attribute to override default, got %q", g.Nodes["b"].Attrs["fidelity"])
	}
}

func TestParse_Subgraph(t *testing.T) {
	src := `
digraph g {
  a [shape=box]
  subgraph cluster_0 {
    b [shape=box]
    c [shape=box]
  }
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(g.Subgraphs) != 1 {
		t.Fatalf("expected 1 subgraph, got %d", len(g.Subgraphs))
	}
	if len(g.Subgraphs[0].Nodes) != 2 {
		t.Errorf("expected subgraph to claim 2 new nodes, got %d", len(g.Subgraphs[0].Nodes))
	}
	if g.FindNode("b") == nil || g.FindNode("c") == nil {
		t.Error("expected subgraph nodes to also register at the top level")
	}
}

func TestParse_MalformedSourceErrors(t *testing.T) {
	if _, err := Parse(`digraph g { a [shape=box `); err == nil {
		t.Error("expected unterminated attribute list to produce a parse error")
	}
}

func TestFindStartAndExitNodes(t *testing.T) {
	src := `
digraph g {
  start [shape=Mdiamond]
  exit [shape=Msquare]
  mid [shape=box]
  start -> mid -> exit
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got := g.FindStartNode(); got == nil || got.ID != "start" {
		t.Errorf("expected start node, got %v", got)
	}
	if got := g.FindExitNode(); got == nil || got.ID != "exit" {
		t.Errorf("expected exit node, got %v", got)
	}
}
