// Package notifyadapter implements the built-in "notify.log" connector: it
// writes its resolved config to the process log and echoes it back as
// output. Grounded on the reference's workflow_lifecycle event-publishing
// pattern, with the PubSub fan-out dropped (no "dashboard" consumers in
// this core).
package notifyadapter

import (
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/registry"
)

// Adapter executes "notify.log" nodes: it logs the node's resolved config
// at info level and returns it unchanged as the node's output, so
// downstream nodes can reference whatever message fields were sent.
type Adapter struct {
	Logger *logging.Logger
}

// New builds an Adapter logging through the given logger.
func New(logger *logging.Logger) *Adapter {
	return &Adapter{Logger: logger}
}

func (a *Adapter) Execute(actx registry.AdapterContext) (registry.AdapterResult, error) {
	a.Logger.Info("notify.log",
		"run_id", actx.RunMetadata.RunID,
		"node_id", actx.RunMetadata.NodeID,
		"message", actx.ResolvedConfig,
	)
	return registry.AdapterResult{Success: true, Output: actx.ResolvedConfig}, nil
}
