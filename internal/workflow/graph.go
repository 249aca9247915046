package workflow

import "fmt"

// Node is one engine graph node: a class and its named inputs. Input values
// are either literals or links of the form ["<node-id>", <output-index>].
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph maps node ids to nodes. A Graph returned by the projector is owned
// exclusively by the caller.
type Graph map[string]Node

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, n := range g {
		out[id] = Node{
			ClassType: n.ClassType,
			Inputs:    cloneMap(n.Inputs),
			Meta:      cloneMap(n.Meta),
		}
	}
	return out
}

// Get returns the value at c.
func (g Graph) Get(c Coordinate) (any, bool) {
	n, ok := g[c.Node]
	if !ok {
		return nil, false
	}
	v, ok := n.Inputs[c.Input]
	return v, ok
}

// Set writes value at c. The node and input must already exist.
func (g Graph) Set(c Coordinate, value any) error {
	n, ok := g[c.Node]
	if !ok {
		return fmt.Errorf("node %q not in graph", c.Node)
	}
	if _, ok := n.Inputs[c.Input]; !ok {
		return fmt.Errorf("node %q has no input %q", c.Node, c.Input)
	}
	n.Inputs[c.Input] = value
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
