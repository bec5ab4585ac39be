package pool

import (
	"fmt"

	"github.com/kawanishi0117/agent-company-sub001/pkg/models"
)

// TypeSpec describes how workers of one type are built: the capability tags
// they advertise, the AI adapter and model they talk to, and the container
// image they run in.
type TypeSpec struct {
	Capabilities []string
	Adapter      string
	Model        string
	Image        string
}

// TypeRegistry maps worker types to their specs. Lookup order is stable so
// capability-based selection is deterministic.
type TypeRegistry struct {
	order []models.WorkerType
	specs map[models.WorkerType]TypeSpec
}

// NewTypeRegistry builds an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{specs: map[models.WorkerType]TypeSpec{}}
}

// DefaultTypeRegistry returns the built-in worker type catalog.
func DefaultTypeRegistry(adapter, model, image string) *TypeRegistry {
	r := NewTypeRegistry()
	for _, entry := range []struct {
		workerType   models.WorkerType
		capabilities []string
	}{
		{models.WorkerTypeDeveloper, []string{"code", "refactor"}},
		{models.WorkerTypeTest, []string{"test", "code"}},
		{models.WorkerTypeResearch, []string{"research", "analysis"}},
		{models.WorkerTypeDesign, []string{"design", "architecture"}},
		{models.WorkerTypeDesigner, []string{"ui", "design"}},
		{models.WorkerTypeReviewer, []string{"review"}},
	} {
		r.Register(entry.workerType, TypeSpec{
			Capabilities: entry.capabilities,
			Adapter:      adapter,
			Model:        model,
			Image:        image,
		})
	}
	return r
}

// Register adds or replaces a worker type spec.
func (r *TypeRegistry) Register(workerType models.WorkerType, spec TypeSpec) {
	if _, exists := r.specs[workerType]; !exists {
		r.order = append(r.order, workerType)
	}
	r.specs[workerType] = spec
}

// Lookup returns the spec for a worker type.
func (r *TypeRegistry) Lookup(workerType models.WorkerType) (TypeSpec, error) {
	spec, ok := r.specs[workerType]
	if !ok {
		return TypeSpec{}, fmt.Errorf("unknown worker type %q", workerType)
	}
	return spec, nil
}

// TypeForCapabilities returns the first registered type whose capabilities
// cover every required tag. An empty requirement matches the first type.
func (r *TypeRegistry) TypeForCapabilities(required []string) (models.WorkerType, TypeSpec, bool) {
	for _, workerType := range r.order {
		spec := r.specs[workerType]
		if coversCapabilities(spec.Capabilities, required) {
			return workerType, spec, true
		}
	}
	return "", TypeSpec{}, false
}

// Types returns the registered worker types in registration order.
func (r *TypeRegistry) Types() []models.WorkerType {
	out := make([]models.WorkerType, len(r.order))
	copy(out, r.order)
	return out
}

// coversCapabilities reports whether have contains every tag in required.
func coversCapabilities(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	tags := make(map[string]bool, len(have))
	for _, tag := range have {
		tags[tag] = true
	}
	for _, tag := range required {
		if !tags[tag] {
			return false
		}
	}
	return true
}
