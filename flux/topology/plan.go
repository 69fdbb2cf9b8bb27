/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package topology

import (
	"bytes"
	"fmt"
	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/scheduler"
)

// Position is a node and the scheduler its callbacks execute on.
// scheduler.Caller marks the activating goroutine.
type Position struct {
	Node      *Node
	Scheduler string
}

// Plan maps every position of a pipeline to the scheduler responsible for it.
type Plan struct {
	Origin    string
	Positions []Position
}

// Resolve computes the scheduler context of the pipeline ending at tail the
// same way activation does. The last declared subscribeOn decides the origin,
// each publishOn switches every position from itself downstream.
func Resolve(tail *Node) (*Plan, error) {
	if tail == nil {
		return nil, errors.New(`empty pipeline`)
	}

	chain := tail.Chain()
	if chain[0].Type != TypeSource {
		return nil, errors.Errorf(`pipeline origin [%s] is not a source`, chain[0].Name)
	}

	plan := &Plan{Origin: scheduler.Caller}
	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		if i > 0 && n.Type == TypeSource {
			return nil, errors.Errorf(`pipeline has more than one source [%s]`, n.Name)
		}

		if n.Type == TypeSink && i != len(chain)-1 {
			return nil, errors.Errorf(`sink [%s] is not terminal`, n.Name)
		}

		if n.Boundary == BoundarySubscribeOn && plan.Origin == scheduler.Caller {
			plan.Origin = n.Scheduler.Name()
		}
	}

	current := plan.Origin
	for _, n := range chain {
		if n.Boundary == BoundaryPublishOn {
			current = n.Scheduler.Name()
		}
		plan.Positions = append(plan.Positions, Position{Node: n, Scheduler: current})
	}

	return plan, nil
}

// Segments groups consecutive positions sharing a scheduler.
func (p *Plan) Segments() [][]Position {
	var segments [][]Position
	for i, pos := range p.Positions {
		if i == 0 || p.Positions[i-1].Scheduler != pos.Scheduler {
			segments = append(segments, nil)
		}
		segments[len(segments)-1] = append(segments[len(segments)-1], pos)
	}

	return segments
}

func (p *Plan) String() string {
	out := new(bytes.Buffer)
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{`Id`, `Node`, `Type`, `Scheduler`})

	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	for _, pos := range p.Positions {
		table.Append([]string{
			fmt.Sprint(pos.Node.Id),
			pos.Node.Name,
			string(pos.Node.Type),
			pos.Scheduler,
		})
	}
	table.Render()

	return out.String()
}
