// Package dag provides directed graph operations for statement chains.
// It supports cycle detection, topological sorting and execution levels.
// Traversals are iterative so deep chains do not grow the goroutine stack.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node represents a node in the graph.
type Node[T any] struct {
	// ID is the unique identifier
	ID string
	// Data holds the node payload
	Data T
}

// Graph is a directed graph. An edge parent -> child means child depends on parent.
// The graph may contain cycles; operations that need an order report them.
type Graph[T any] struct {
	nodes   map[string]*Node[T]
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph[T any]() *Graph[T] {
	return &Graph[T]{
		nodes:   make(map[string]*Node[T]),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph, replacing the data of an existing node.
func (g *Graph[T]) AddNode(id string, data T) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node[T]{ID: id, Data: data}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph[T]) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph[T]) GetNode(id string) (*Node[T], bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node.
func (g *Graph[T]) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node.
func (g *Graph[T]) GetChildren(id string) []string {
	return g.edges[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph[T]) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph[T]) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

func (g *Graph[T]) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
// The path starts and ends with the same node.
func (g *Graph[T]) HasCycle() (bool, []string) {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(g.nodes))

	type frame struct {
		id   string
		next int
	}

	for _, root := range g.sortedIDs() {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{id: root}}
		state[root] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := g.edges[top.id]
			if top.next >= len(children) {
				state[top.id] = done
				stack = stack[:len(stack)-1]
				continue
			}
			childID := children[top.next]
			top.next++

			switch state[childID] {
			case unvisited:
				state[childID] = onStack
				stack = append(stack, frame{id: childID})
			case onStack:
				// The stack holds the path from root; the cycle is its suffix from childID.
				var cyclePath []string
				for i := range stack {
					if stack[i].id == childID {
						for _, f := range stack[i:] {
							cyclePath = append(cyclePath, f.id)
						}
						break
					}
				}
				cyclePath = append(cyclePath, childID)
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns nodes in topological order (dependencies before dependents).
// Ties are broken by node ID. Returns an error if the graph contains a cycle.
func (g *Graph[T]) TopologicalSort() ([]*Node[T], error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.parents[id])
	}

	ready := g.GetRoots()
	result := make([]*Node[T], 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, g.nodes[id])

		var unlocked []string
		for _, childID := range g.edges[id] {
			indegree[childID]--
			if indegree[childID] == 0 {
				unlocked = append(unlocked, childID)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N only depend on nodes at levels below N.
// Level 0 contains nodes with no dependencies.
func (g *Graph[T]) GetExecutionLevels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]int, len(order))
	maxLevel := -1
	for _, node := range order {
		level := 0
		for _, parentID := range g.parents[node.ID] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[node.ID] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// GetUpstreamNodes returns all nodes upstream of the given node (its dependencies and their dependencies).
func (g *Graph[T]) GetUpstreamNodes(id string) []string {
	upstream := make(map[string]bool)
	pending := slices.Clone(g.parents[id])
	for len(pending) > 0 {
		parentID := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if upstream[parentID] {
			continue
		}
		upstream[parentID] = true
		pending = append(pending, g.parents[parentID]...)
	}

	result := make([]string, 0, len(upstream))
	for nodeID := range upstream {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}

// GetRoots returns nodes with no parents (no dependencies).
func (g *Graph[T]) GetRoots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// GetLeaves returns nodes with no children (no dependents).
func (g *Graph[T]) GetLeaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}
