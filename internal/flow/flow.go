// Package flow runs named request/response operations whose input and output
// are validated against their declared struct shapes.
package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"policy-search/internal/metrics"
)

var (
	ErrNotFound      = errors.New("flow not found")
	ErrInvalidInput  = errors.New("invalid flow input")
	ErrInvalidOutput = errors.New("invalid flow output")
)

// Func is the body of a flow.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Runner is the type-erased view of a flow used for JSON invocation.
type Runner interface {
	Name() string
	RunJSON(ctx context.Context, data json.RawMessage) (any, error)
}

// Flow is a named, validated operation.
type Flow[In, Out any] struct {
	name     string
	fn       Func[In, Out]
	validate *validator.Validate
}

// Registry holds flows by name. Flows are defined at startup and only looked
// up afterwards.
type Registry struct {
	mu       sync.RWMutex
	flows    map[string]Runner
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		flows:    make(map[string]Runner),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Define registers fn under name. Defining the same name twice panics, as
// with http.ServeMux.
func Define[In, Out any](r *Registry, name string, fn Func[In, Out]) *Flow[In, Out] {
	f := &Flow[In, Out]{name: name, fn: fn, validate: r.validate}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.flows[name]; dup {
		panic(fmt.Sprintf("flow: %q already defined", name))
	}
	r.flows[name] = f
	return f
}

// Lookup returns the flow registered under name.
func (r *Registry) Lookup(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// Names lists registered flows alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Flow[In, Out]) Name() string { return f.name }

// Run validates in, executes the flow and validates its result.
func (f *Flow[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	var zero Out
	if err := f.validateValue(in); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	start := time.Now()
	out, err := f.fn(ctx, in)
	metrics.ObserveFlow(f.name, time.Since(start), err)
	if err != nil {
		return zero, err
	}
	if err := f.validateValue(out); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	return out, nil
}

// RunJSON decodes data into the flow's input type and runs it.
func (f *Flow[In, Out]) RunJSON(ctx context.Context, data json.RawMessage) (any, error) {
	var in In
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidInput)
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return f.Run(ctx, in)
}

// validateValue checks struct values (and pointers to structs) against their
// validate tags; other types pass unchecked.
func (f *Flow[In, Out]) validateValue(v any) error {
	err := f.validate.Struct(v)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}
