/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package topology

import (
	"github.com/tryfix/kflux/flux/scheduler"
	"sync/atomic"
)

type Type string

const TypeSource Type = `source`
const TypeTransform Type = `transform`
const TypeBoundary Type = `boundary`
const TypeSink Type = `sink`

type Boundary int

const (
	BoundaryNone Boundary = iota
	BoundaryPublishOn
	BoundarySubscribeOn
)

func (b Boundary) String() string {
	switch b {
	case BoundaryPublishOn:
		return `publishOn`
	case BoundarySubscribeOn:
		return `subscribeOn`
	}

	return `none`
}

var nodeCounter int32

// Node describes one declared stage of a pipeline. Nodes are immutable once
// built and own a single reference to their upstream.
type Node struct {
	Id        int32
	Name      string
	Type      Type
	Boundary  Boundary
	Scheduler scheduler.Scheduler
	Upstream  *Node
	Info      map[string]string
}

func NewSource(name string, info map[string]string) *Node {
	return &Node{
		Id:   atomic.AddInt32(&nodeCounter, 1),
		Name: name,
		Type: TypeSource,
		Info: info,
	}
}

func NewTransform(upstream *Node, name string) *Node {
	return &Node{
		Id:       atomic.AddInt32(&nodeCounter, 1),
		Name:     name,
		Type:     TypeTransform,
		Upstream: upstream,
	}
}

func NewBoundary(upstream *Node, boundary Boundary, s scheduler.Scheduler) *Node {
	return &Node{
		Id:        atomic.AddInt32(&nodeCounter, 1),
		Name:      boundary.String(),
		Type:      TypeBoundary,
		Boundary:  boundary,
		Scheduler: s,
		Upstream:  upstream,
	}
}

func NewSink(upstream *Node, name string) *Node {
	return &Node{
		Id:       atomic.AddInt32(&nodeCounter, 1),
		Name:     name,
		Type:     TypeSink,
		Upstream: upstream,
	}
}

// Chain returns the nodes from the origin source down to n.
func (n *Node) Chain() []*Node {
	var chain []*Node
	for node := n; node != nil; node = node.Upstream {
		chain = append(chain, node)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain
}
