package graph

import (
	"context"
	"fmt"
	"runtime/debug"
)

// NodeType represents the role of a node in the graph.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeError     NodeType = "error"
	NodeTypeCondition NodeType = "condition"
	NodeTypeCustom    NodeType = "custom"
)

// NodeFunc reads the current state and returns a partial update. Nodes never
// write state directly; the graph folds updates in through its reducer.
type NodeFunc[S, U any] func(context.Context, S) (U, error)

// ConditionFunc evaluates the state and returns a routing key.
type ConditionFunc[S any] func(context.Context, S) (string, error)

// Reducer merges a node's update into the state. It is the only writer.
type Reducer[S, U any] func(S, U) S

// ErrorHandler records a node failure in the state before the error node runs.
type ErrorHandler[S any] func(state S, node string, err error) S

// Node represents a node in the execution graph.
type Node[S, U any] struct {
	Name           string
	Type           NodeType
	Execute        NodeFunc[S, U]
	Condition      ConditionFunc[S]  // condition nodes only
	NextNodes      []string          // outgoing edges
	NextMap        map[string]string // condition result -> next node
	WaitAllParents bool              // wait for every parent before running
}

// NodeError reports which node failed.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }

// Graph is a typed execution flow graph.
type Graph[S, U any] struct {
	nodes     map[string]*Node[S, U]
	startNode string
	endNode   string
	errorNode string
	maxVisits int
	reduce    Reducer[S, U]
	onError   ErrorHandler[S]
}

// NewGraph creates an empty graph that merges updates with reduce.
func NewGraph[S, U any](reduce Reducer[S, U]) *Graph[S, U] {
	if reduce == nil {
		panic("graph reducer cannot be nil")
	}
	return &Graph[S, U]{
		nodes:     make(map[string]*Node[S, U]),
		maxVisits: 10,
		reduce:    reduce,
	}
}

func (g *Graph[S, U]) validateNode(node *Node[S, U]) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}
	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node. Start, end and error nodes are registered by type.
func (g *Graph[S, U]) AddNode(node *Node[S, U]) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}
	g.validateNode(node)
	g.nodes[node.Name] = node

	switch node.Type {
	case NodeTypeStart:
		g.startNode = node.Name
	case NodeTypeEnd:
		g.endNode = node.Name
	case NodeTypeError:
		g.errorNode = node.Name
	}
}

func (n *Node[S, U]) addNext(name string) {
	n.NextNodes = append(n.NextNodes, name)
}

func (n *Node[S, U]) nextList() []string {
	seen := make(map[string]struct{})
	var result []string
	for _, child := range n.NextNodes {
		if _, ok := seen[child]; ok {
			continue
		}
		seen[child] = struct{}{}
		result = append(result, child)
	}
	return result
}

func (g *Graph[S, U]) mustExist(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
}

func (g *Graph[S, U]) SetStartNode(name string) {
	g.mustExist(name)
	g.startNode = name
}

func (g *Graph[S, U]) SetEndNode(name string) {
	g.mustExist(name)
	g.endNode = name
}

// SetErrorNode routes node failures to name after handler records them.
func (g *Graph[S, U]) SetErrorNode(name string, handler ErrorHandler[S]) {
	g.mustExist(name)
	g.errorNode = name
	g.onError = handler
}

// SetMaxVisits bounds how often a single node may run in one execution.
func (g *Graph[S, U]) SetMaxVisits(maxVisits int) {
	g.maxVisits = maxVisits
}

// Validate checks that the start node is set and every edge has a target.
func (g *Graph[S, U]) Validate() error {
	if g.startNode == "" {
		return fmt.Errorf("start node not set")
	}
	for _, node := range g.nodes {
		for _, child := range g.staticChildren(node) {
			if _, ok := g.nodes[child]; !ok {
				return fmt.Errorf("node %s has edge to unknown node %s", node.Name, child)
			}
		}
	}
	return nil
}

// Execute runs the graph breadth-first from the start node.
//
// Each node's update is merged before any other node runs. A child that
// waits for all parents is enqueued once every parent has reported, and at
// least one of them actually took the edge. A failing or panicking node
// hands control to the error node when one is configured; otherwise the
// error is returned with the state reached so far.
func (g *Graph[S, U]) Execute(ctx context.Context, state S) (S, error) {
	if g.startNode == "" {
		return state, fmt.Errorf("start node not set")
	}

	expectedParents := g.buildParentCounts()
	completedParents := make(map[string]int)
	parentHits := make(map[string]int)
	awaiting := map[string]bool{g.startNode: true}
	queue := []string{g.startNode}
	visited := make(map[string]int)
	failed := false

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		awaiting[current] = false

		node, exists := g.nodes[current]
		if !exists {
			return state, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			err := fmt.Errorf("infinite loop detected at node %s", current)
			if g.errorNode == "" || failed {
				return state, err
			}
			failed = true
			state = g.fail(state, current, err)
			queue = []string{g.errorNode}
			clear(awaiting)
			awaiting[g.errorNode] = true
			continue
		}

		next, newState, err := g.step(ctx, node, state)
		state = newState
		if err != nil {
			if g.errorNode == "" || failed || current == g.errorNode {
				return state, err
			}
			failed = true
			state = g.fail(state, current, err)
			queue = []string{g.errorNode}
			clear(awaiting)
			awaiting[g.errorNode] = true
			continue
		}
		if node.Type == NodeTypeEnd {
			return state, nil
		}

		triggered := make(map[string]struct{}, len(next))
		for _, child := range next {
			triggered[child] = struct{}{}
			if err := g.handleChildSignal(child, true, parentHits, completedParents, expectedParents, awaiting, &queue); err != nil {
				return state, err
			}
		}
		for _, child := range g.staticChildren(node) {
			if _, ok := triggered[child]; ok {
				continue
			}
			if err := g.handleChildSignal(child, false, parentHits, completedParents, expectedParents, awaiting, &queue); err != nil {
				return state, err
			}
		}

		parentHits[current] = 0
		completedParents[current] = 0
	}
	return state, nil
}

func (g *Graph[S, U]) fail(state S, node string, err error) S {
	if g.onError == nil {
		return state
	}
	return g.onError(state, node, err)
}

// step runs one node, merges its update and resolves the children it
// activates. Panics are converted into errors.
func (g *Graph[S, U]) step(ctx context.Context, node *Node[S, U], state S) (next []string, out S, err error) {
	out = state
	defer func() {
		if r := recover(); r != nil {
			err = &NodeError{Node: node.Name, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()

	if node.Type == NodeTypeCondition {
		key, cerr := node.Condition(ctx, state)
		if cerr != nil {
			return nil, out, &NodeError{Node: node.Name, Err: cerr}
		}
		target := node.NextMap[key]
		if target == "" {
			return nil, out, &NodeError{Node: node.Name, Err: fmt.Errorf("no route for condition result %q", key)}
		}
		return []string{target}, out, nil
	}

	update, xerr := node.Execute(ctx, state)
	if xerr != nil {
		return nil, out, &NodeError{Node: node.Name, Err: xerr}
	}
	out = g.reduce(state, update)
	if node.Type == NodeTypeEnd {
		return nil, out, nil
	}
	next = node.nextList()
	if len(next) == 0 && node.Type != NodeTypeError {
		return nil, out, &NodeError{Node: node.Name, Err: fmt.Errorf("no next node specified")}
	}
	return next, out, nil
}

func (g *Graph[S, U]) handleChildSignal(child string, participated bool, parentHits, completedParents, expectedParents map[string]int, awaiting map[string]bool, queue *[]string) error {
	target, exists := g.nodes[child]
	if !exists {
		return fmt.Errorf("node %s not found", child)
	}

	if target.WaitAllParents {
		if participated {
			parentHits[child]++
		}
		completedParents[child]++
		required := max(expectedParents[child], 1)
		if completedParents[child] < required || parentHits[child] == 0 || awaiting[child] {
			return nil
		}
		awaiting[child] = true
		*queue = append(*queue, child)
		return nil
	}

	if !participated {
		return nil
	}
	parentHits[child]++
	if awaiting[child] {
		return nil
	}
	awaiting[child] = true
	*queue = append(*queue, child)
	return nil
}

func (g *Graph[S, U]) buildParentCounts() map[string]int {
	counts := make(map[string]int)
	for _, node := range g.nodes {
		for _, child := range g.staticChildren(node) {
			counts[child]++
		}
	}
	return counts
}

func (g *Graph[S, U]) staticChildren(node *Node[S, U]) []string {
	seen := make(map[string]struct{})
	var result []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	if node.Type == NodeTypeCondition {
		for _, child := range node.NextMap {
			add(child)
		}
	}
	for _, child := range node.NextNodes {
		add(child)
	}
	return result
}

// GetNode returns a node by name.
func (g *Graph[S, U]) GetNode(name string) (*Node[S, U], error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Builder helps build graphs fluently.
type Builder[S, U any] struct {
	graph *Graph[S, U]
}

func NewBuilder[S, U any](reduce Reducer[S, U]) *Builder[S, U] {
	return &Builder[S, U]{graph: NewGraph(reduce)}
}

func (b *Builder[S, U]) AddNode(name string, nodeType NodeType, execute NodeFunc[S, U]) *Builder[S, U] {
	b.graph.AddNode(&Node[S, U]{Name: name, Type: nodeType, Execute: execute})
	return b
}

func (b *Builder[S, U]) AddConditionNode(name string, condition ConditionFunc[S], nextMap map[string]string) *Builder[S, U] {
	b.graph.AddNode(&Node[S, U]{Name: name, Type: NodeTypeCondition, Condition: condition, NextMap: nextMap})
	return b
}

// AddEdge connects two nodes.
func (b *Builder[S, U]) AddEdge(from, to string) *Builder[S, U] {
	if node, exists := b.graph.nodes[from]; exists {
		node.addNext(to)
	}
	return b
}

// RequireAllParents marks a node to wait for all of its parents.
func (b *Builder[S, U]) RequireAllParents(name string) *Builder[S, U] {
	b.graph.mustExist(name)
	b.graph.nodes[name].WaitAllParents = true
	return b
}

func (b *Builder[S, U]) SetStart(name string) *Builder[S, U] {
	b.graph.SetStartNode(name)
	return b
}

func (b *Builder[S, U]) SetEnd(name string) *Builder[S, U] {
	b.graph.SetEndNode(name)
	return b
}

func (b *Builder[S, U]) SetError(name string, handler ErrorHandler[S]) *Builder[S, U] {
	b.graph.SetErrorNode(name, handler)
	return b
}

func (b *Builder[S, U]) SetMaxVisits(maxVisits int) *Builder[S, U] {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Build validates and returns the constructed graph.
func (b *Builder[S, U]) Build() (*Graph[S, U], error) {
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
