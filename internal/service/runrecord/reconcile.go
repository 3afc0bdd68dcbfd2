// Package runrecord turns the raw events and outputs of a pipeline run into
// the AgentRun audit record. Everything here is pure.
package runrecord

import (
	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/model"
)

// Reconciliation is the full result of pairing tool events.
type Reconciliation struct {
	// Invocations are the calls with a known tool name, numbered 1..N.
	Invocations []model.ToolInvocation
	// Orphans are entries without a tool name, usually outputs whose call
	// event never arrived. They carry no execution order.
	Orphans []model.ToolInvocation
}

type pending struct {
	inv    model.ToolInvocation
	called bool
}

// Reconcile pairs tool-call and tool-call-output events by call id and
// returns the invocations in the order their call events were first seen.
func Reconcile(events []agent.RunEvent) []model.ToolInvocation {
	return ReconcileAll(events).Invocations
}

// ReconcileAll is Reconcile that also reports orphaned outputs.
//
// Events may arrive in either order. An output seen before its call creates
// a stub; when the call arrives the stub is filled in and moved to the call's
// position. A repeated call event overwrites the name and arguments but keeps
// the position and any output already attached.
func ReconcileAll(events []agent.RunEvent) Reconciliation {
	byID := make(map[string]*pending, len(events))
	var order []string

	remove := func(id string) {
		for i, v := range order {
			if v == id {
				order = append(order[:i], order[i+1:]...)
				return
			}
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case agent.EventToolCall:
			p, ok := byID[ev.CallID]
			switch {
			case !ok:
				p = &pending{inv: model.ToolInvocation{CallID: ev.CallID, Output: model.Structured(nil)}}
				byID[ev.CallID] = p
				order = append(order, ev.CallID)
			case !p.called:
				remove(ev.CallID)
				order = append(order, ev.CallID)
			}
			p.called = true
			p.inv.ToolName = ev.Name
			p.inv.Arguments = ParseArguments(ev.Arguments)

		case agent.EventToolCallOutput:
			output := ParseOutput(ev.Output)
			if p, ok := byID[ev.CallID]; ok {
				p.inv.Output = output
				continue
			}
			byID[ev.CallID] = &pending{inv: model.ToolInvocation{
				CallID:    ev.CallID,
				Arguments: model.Structured(nil),
				Output:    output,
			}}
			order = append(order, ev.CallID)
		}
	}

	var r Reconciliation
	for _, id := range order {
		inv := byID[id].inv
		if inv.ToolName == "" {
			r.Orphans = append(r.Orphans, inv)
			continue
		}
		inv.ExecutionOrder = len(r.Invocations) + 1
		r.Invocations = append(r.Invocations, inv)
	}
	return r
}
