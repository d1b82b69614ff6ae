package ops

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry maps operator names to their contracts.
//
// A Registry is not safe for concurrent registration, but can be used concurrently for lookups once
// populated.
type Registry struct {
	contracts map[string]*Contract
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[string]*Contract)}
}

// Default is the registry with the built-in operator catalogue, used by graph builders unless configured
// otherwise.
var Default = NewCatalogueRegistry()

// NewCatalogueRegistry returns a new registry with all built-in operators, which can be further
// extended with custom operators.
func NewCatalogueRegistry() *Registry {
	r := NewRegistry()
	for _, group := range catalogue {
		for _, c := range group() {
			r.MustRegister(c)
		}
	}
	klog.V(2).Infof("ops: registered %d built-in operators", len(r.contracts))
	return r
}

// Register adds an operator contract.
// It returns an error if the contract is incomplete or if its name is already registered.
func (r *Registry) Register(c *Contract) error {
	switch {
	case c == nil || c.Name == "":
		return errors.New("cannot register an operator contract without a name")
	case c.Infer == nil:
		return errors.Errorf("operator %q registered without an inference function", c.Name)
	case c.Arity.Min < 0 || (c.Arity.Max != Unbounded && c.Arity.Max < c.Arity.Min):
		return errors.Errorf("operator %q registered with invalid arity %+v", c.Name, c.Arity)
	case c.OutputsFn == nil && c.Outputs < 1:
		return errors.Errorf("operator %q registered without outputs", c.Name)
	}
	if _, found := r.contracts[c.Name]; found {
		return errors.Errorf("operator %q registered twice", c.Name)
	}
	r.contracts[c.Name] = c
	return nil
}

// MustRegister adds an operator contract, and panics if it fails.
func (r *Registry) MustRegister(c *Contract) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the contract registered under name.
func (r *Registry) Lookup(name string) (*Contract, bool) {
	c, found := r.contracts[name]
	return c, found
}

// Names returns the sorted names of all registered operators.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.contracts))
}

// Len returns the number of registered operators.
func (r *Registry) Len() int { return len(r.contracts) }

// catalogue lists the functions that return the built-in operator groups.
var catalogue = []func() []*Contract{
	elementwiseOps,
	reduceOps,
	shapeOps,
	indexingOps,
	generatorOps,
	nnOps,
	spatialOps,
}
