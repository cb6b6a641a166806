// Package handlers holds the code-side tables of named phase validators and
// post-handlers. Flow definitions reference entries by name; the definition
// validator resolves every declared name at startup so a missing handler
// fails registry load instead of the first invocation.
package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/pitabwire/floe/model"
)

// Validator is a pre-execution check for a phase. A rejection returns a
// *model.ErrorEnvelope with code VALIDATION_FAILED; the controller aborts
// with no state mutation and surfaces the reason verbatim.
type Validator func(ctx context.Context, inst *model.FlowInstance, input map[string]any) error

// Handler is a post-execution step for a phase. Handlers may enrich the
// phase's result document or record pause points on the instance.
type Handler func(ctx context.Context, inst *model.FlowInstance, phase string, input map[string]any) error

// Table is an explicit, constructed registry of named validators and
// handlers. It is populated before registry load and read-only afterwards.
type Table struct {
	validators map[string]Validator
	handlers   map[string]Handler
}

// NewTable creates a Table pre-populated with the built-in validators and
// handlers.
func NewTable() *Table {
	t := &Table{
		validators: make(map[string]Validator),
		handlers:   make(map[string]Handler),
	}
	registerBuiltins(t)
	return t
}

// RegisterValidator adds a named validator. Registering a duplicate name is a
// programming error and panics.
func (t *Table) RegisterValidator(name string, v Validator) {
	if _, exists := t.validators[name]; exists {
		panic(fmt.Sprintf("handlers: validator %q registered twice", name))
	}
	t.validators[name] = v
}

// RegisterHandler adds a named handler. Registering a duplicate name is a
// programming error and panics.
func (t *Table) RegisterHandler(name string, h Handler) {
	if _, exists := t.handlers[name]; exists {
		panic(fmt.Sprintf("handlers: handler %q registered twice", name))
	}
	t.handlers[name] = h
}

// Validator returns the named validator.
func (t *Table) Validator(name string) (Validator, bool) {
	v, ok := t.validators[name]
	return v, ok
}

// Handler returns the named handler.
func (t *Table) Handler(name string) (Handler, bool) {
	h, ok := t.handlers[name]
	return h, ok
}

// HasValidator reports whether a validator with the given name exists.
func (t *Table) HasValidator(name string) bool {
	_, ok := t.validators[name]
	return ok
}

// HasHandler reports whether a handler with the given name exists.
func (t *Table) HasHandler(name string) bool {
	_, ok := t.handlers[name]
	return ok
}

// ValidatorNames returns all registered validator names, sorted.
func (t *Table) ValidatorNames() []string {
	names := make([]string, 0, len(t.validators))
	for n := range t.validators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HandlerNames returns all registered handler names, sorted.
func (t *Table) HandlerNames() []string {
	names := make([]string, 0, len(t.handlers))
	for n := range t.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
