package broker

import (
	"encoding/json"
	"fmt"
)

// TaskSpec is one schedulable unit: a handler invocation with the
// component binding and the serialized runtime argument. Task names follow
// the `handler.<component>` convention.
type TaskSpec struct {
	Name          string            `json:"name"`
	HandlerName   string            `json:"handler_name"`
	ComponentName string            `json:"component_name"`
	Config        map[string]any    `json:"config,omitempty"`
	Env           map[string]string `json:"env,omitempty"`

	// Args is the encoded payload of the task's leading argument. Chained
	// tasks leave it empty; the previous link's result is piped in.
	Args json.RawMessage `json:"args,omitempty"`
}

// Node is one link of a chain: either a single task (value pipelining) or
// a group (parallel, no pipelining past it).
type Node struct {
	Task  *TaskSpec  `json:"task,omitempty"`
	Group []TaskSpec `json:"group,omitempty"`
}

// Envelope is the wire form of a chain: the task to run now plus the
// remaining links.
type Envelope struct {
	Task TaskSpec `json:"task"`
	Next []Node   `json:"next,omitempty"`
}

// Chain builds an envelope executing the given nodes sequentially, piping
// each result into the next link. The first node must be a single task; a
// group may only terminate a chain.
func Chain(nodes ...Node) (*Envelope, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("chain requires at least one node")
	}
	if nodes[0].Task == nil {
		return nil, fmt.Errorf("chain must start with a task, not a group")
	}
	for i, node := range nodes[:len(nodes)-1] {
		if node.Group != nil {
			return nil, fmt.Errorf("group at position %d: a group may only terminate a chain", i)
		}
	}
	return &Envelope{Task: *nodes[0].Task, Next: nodes[1:]}, nil
}

// Single wraps a task spec into a chain node.
func Single(spec TaskSpec) Node {
	return Node{Task: &spec}
}

// Group wraps task specs into a parallel chain node.
func Group(specs []TaskSpec) Node {
	return Node{Group: specs}
}

// advance produces the envelopes to enqueue after the current task
// completed with the given result.
func (e *Envelope) advance(result json.RawMessage) []*Envelope {
	if len(e.Next) == 0 {
		return nil
	}

	head, rest := e.Next[0], e.Next[1:]
	if head.Task != nil {
		next := *head.Task
		next.Args = result
		return []*Envelope{{Task: next, Next: rest}}
	}

	envelopes := make([]*Envelope, 0, len(head.Group))
	for _, spec := range head.Group {
		member := spec
		member.Args = result
		envelopes = append(envelopes, &Envelope{Task: member})
	}
	return envelopes
}
