// Package registry provides the static catalog of flow definitions.
//
// The registry is populated at startup and read-only afterwards, so
// concurrent reads during traffic need no synchronization beyond the
// registration-phase mutex.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sokolink/sokolink/internal/models"
)

// Registry is a catalog of flow definitions keyed by flow ID.
type Registry struct {
	mu    sync.RWMutex
	flows map[models.FlowID]*models.FlowDefinition
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{flows: make(map[models.FlowID]*models.FlowDefinition)}
}

// Register adds a flow definition to the catalog. Registering the same
// flow ID twice is a configuration error.
func (r *Registry) Register(def models.FlowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[def.ID]; exists {
		return fmt.Errorf("flow %q already registered", def.ID)
	}
	d := def
	r.flows[def.ID] = &d
	slog.Debug("Registry flow registered", "flow", def.ID, "steps", len(def.Steps))
	return nil
}

// Resolve returns the definition for the given flow ID.
func (r *Registry) Resolve(id models.FlowID) (*models.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.flows[id]
	if !ok {
		return nil, fmt.Errorf("flow %q not found", id)
	}
	return def, nil
}

// StepsOf returns the ordered step list of the given flow.
func (r *Registry) StepsOf(id models.FlowID) ([]models.StepDefinition, error) {
	def, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return def.Steps, nil
}

// InitialStepOf returns the initial step of the given flow.
func (r *Registry) InitialStepOf(id models.FlowID) (models.StepID, error) {
	def, err := r.Resolve(id)
	if err != nil {
		return "", err
	}
	return def.InitialStep, nil
}

// FlowIDs returns all registered flow IDs.
func (r *Registry) FlowIDs() []models.FlowID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]models.FlowID, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	return ids
}

// Validate checks every registered flow for structural consistency:
// a non-empty step list, an initial step that exists, forward and back
// edges that resolve within the same flow, and terminal steps without a
// forward edge. A failure here is fatal at startup; after Validate
// passes, unknown flows or steps at runtime are programming errors.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, def := range r.flows {
		if len(def.Steps) == 0 {
			return fmt.Errorf("flow %q has no steps", id)
		}
		if !def.HasStep(def.InitialStep) {
			return fmt.Errorf("flow %q initial step %q not in step list", id, def.InitialStep)
		}
		if def.Timeout <= 0 {
			return fmt.Errorf("flow %q has no timeout", id)
		}
		seen := make(map[models.StepID]bool, len(def.Steps))
		for _, step := range def.Steps {
			if seen[step.ID] {
				return fmt.Errorf("flow %q has duplicate step %q", id, step.ID)
			}
			seen[step.ID] = true
		}
		for _, step := range def.Steps {
			if step.Next != "" && !def.HasStep(step.Next) {
				return fmt.Errorf("flow %q step %q forward edge %q not in step list", id, step.ID, step.Next)
			}
			if step.Prev != "" && !def.HasStep(step.Prev) {
				return fmt.Errorf("flow %q step %q back edge %q not in step list", id, step.ID, step.Prev)
			}
			if step.Terminal && step.Next != "" {
				return fmt.Errorf("flow %q terminal step %q has forward edge %q", id, step.ID, step.Next)
			}
		}
	}
	slog.Info("Registry validated", "flows", len(r.flows))
	return nil
}
