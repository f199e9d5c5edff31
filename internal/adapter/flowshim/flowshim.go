// Package flowshim registers placeholder adapters for the engine-native
// control-flow connector types (flow.if, flow.switch, flow.loop, flow.merge,
// flow.subworkflow). The engine dispatches nodes with Branch/Loop/Merge/
// SubWorkflow set directly to internal/engine/controlflow and never calls
// these adapters' Execute — they exist only so BuildPlan's "every node type
// has a registered adapter" validation (spec.md §4.3.1) holds uniformly for
// control-flow node types too.
package flowshim

import (
	"fmt"

	"github.com/lyzr/workflowcore/internal/registry"
)

// ConnectorTypes lists the control-flow connector-type strings a workflow
// may reference.
var ConnectorTypes = []string{
	"flow.if",
	"flow.switch",
	"flow.loop",
	"flow.merge",
	"flow.subworkflow",
}

// Adapter is the shared placeholder registered under each control-flow
// connector type.
type Adapter struct {
	connectorType string
}

func (a Adapter) Execute(_ registry.AdapterContext) (registry.AdapterResult, error) {
	return registry.AdapterResult{}, fmt.Errorf("flowshim: %q is engine-native control flow, it is never dispatched through the adapter registry", a.connectorType)
}

// RegisterAll registers a placeholder adapter for every control-flow
// connector type into reg.
func RegisterAll(reg *registry.Registry) {
	for _, ct := range ConnectorTypes {
		reg.Register(ct, Adapter{connectorType: ct})
	}
}
