/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package edward

import (
	"fmt"
	"sync"
)

// Graph represents a computation graph. Graphs may be shared between
// sessions.
type Graph struct {
	mu    sync.Mutex
	byName map[string]*Operation
	order  []*Operation
}

// NewGraph returns a new Graph.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]*Operation)}
}

// Operation that has been added to the graph.
type Operation struct {
	g       *Graph
	name    string
	opType  string
	inputs  []Output
	attrs   map[string]any
	control []*Operation
	device  string

	// Inferred at construction time. All operations produce one output.
	outDT    DataType
	outShape Shape
}

// Name returns the name of the operation.
func (op *Operation) Name() string { return op.name }

// Type returns the name of the operator used by this operation.
func (op *Operation) Type() string { return op.opType }

// NumOutputs returns the number of outputs of op.
func (op *Operation) NumOutputs() int { return 1 }

// NumInputs returns the number of inputs of op.
func (op *Operation) NumInputs() int { return len(op.inputs) }

// Input returns the i-th input of op.
func (op *Operation) Input(i int) Output { return op.inputs[i] }

// Output returns the i-th output of op.
func (op *Operation) Output(i int) Output { return Output{op, i} }

// Device returns the device assigned to op, or the empty string when no
// device was requested.
func (op *Operation) Device() string { return op.device }

// Attr returns the value of an attribute on op. It returns an error if the
// attribute is not set.
func (op *Operation) Attr(name string) (any, error) {
	if v, ok := op.attrs[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("operation %q has no attribute %q", op.name, name)
}

// Output represents one of the outputs of an operation in the graph. Has a
// DataType (and eventually a Shape). May be passed as an input argument to a
// function for adding operations to a graph, or to a Session's Run() method
// to fetch that output as a tensor.
type Output struct {
	// Op is the Operation that produces this Output.
	Op *Operation

	// Index specifies the index of the output within the Operation.
	Index int
}

// DataType returns the type of elements in the tensor produced by p.
func (p Output) DataType() DataType {
	p.mustExist()
	return p.Op.outDT
}

// Shape returns the shape of the tensor produced by p.
func (p Output) Shape() Shape {
	p.mustExist()
	return p.Op.outShape
}

// mustExist panics when the Output belongs to an operation that was never
// created, as happens when a builder call failed earlier.
func (p Output) mustExist() {
	if p.Op == nil {
		panic("The underlying Operation was not created, see Scope.Err() for details")
	}
}

func (p Output) canBeAnInput() {}

// Input is the interface for specifying inputs to an operation being added
// to a Graph. Operations can have single-tensor inputs (Output).
type Input interface {
	// Unexported to preclude implementations outside this package.
	canBeAnInput()
}

// OpSpec is the specification of an Operation to be added to a Graph.
type OpSpec struct {
	// Type of the operation (e.g. "Add", "MatMul").
	Type string

	// Name by which the added operation will be referred to in the Graph.
	// If omitted, defaults to Type.
	Name string

	// Inputs to this operation, which in turn must be outputs
	// of other operations already added to the Graph.
	Input []Input

	// Map from attribute name to its value that will be attached to this
	// operation.
	Attrs map[string]any

	// Operations that must be executed before executing the operation
	// being added.
	ControlDependencies []*Operation

	// Device on which the operation should be executed.
	// If omitted, an appropriate device will automatically be selected.
	Device string
}

// AddOperation adds an operation to g.
func (g *Graph) AddOperation(args OpSpec) (*Operation, error) {
	if args.Name == "" {
		args.Name = args.Type
	}
	def, ok := ops[args.Type]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %q (op %q)", args.Type, args.Name)
	}
	inputs := make([]Output, 0, len(args.Input))
	for i, in := range args.Input {
		out, ok := in.(Output)
		if !ok {
			return nil, fmt.Errorf("operation %q: input %d is not the output of another operation", args.Name, i)
		}
		if out.Op == nil {
			return nil, fmt.Errorf("operation %q: input %d is an empty output", args.Name, i)
		}
		if out.Op.g != g {
			return nil, fmt.Errorf("operation %q: input %d belongs to a different graph", args.Name, i)
		}
		inputs = append(inputs, out)
	}
	if def.nIn >= 0 && len(inputs) != def.nIn {
		return nil, fmt.Errorf("operation %q of type %s requires %d inputs, got %d", args.Name, args.Type, def.nIn, len(inputs))
	}

	attrs := make(map[string]any, len(args.Attrs))
	for k, v := range args.Attrs {
		attrs[k] = v
	}
	op := &Operation{
		g:       g,
		name:    args.Name,
		opType:  args.Type,
		inputs:  inputs,
		attrs:   attrs,
		control: append([]*Operation(nil), args.ControlDependencies...),
		device:  args.Device,
	}
	dt, shape, err := def.infer(op)
	if err != nil {
		return nil, fmt.Errorf("operation %q: %w", args.Name, err)
	}
	op.outDT, op.outShape = dt, shape

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.byName[args.Name]; exists {
		return nil, fmt.Errorf("duplicate operation name %q", args.Name)
	}
	g.byName[args.Name] = op
	g.order = append(g.order, op)
	return op, nil
}

// CloneOperation adds a copy of src to g under name, reading from inputs in
// place of src's own inputs. The copy keeps src's type, attributes and device
// but not its control dependencies. src may belong to a different graph as
// long as the replacement inputs belong to g.
func (g *Graph) CloneOperation(src *Operation, name string, inputs []Input) (*Operation, error) {
	if src == nil {
		return nil, fmt.Errorf("CloneOperation requires a source operation")
	}
	return g.AddOperation(OpSpec{
		Type:   src.opType,
		Name:   name,
		Input:  inputs,
		Attrs:  src.attrs,
		Device: src.device,
	})
}

// Operation returns the Operation named name in the Graph, or nil if no such
// operation is present.
func (g *Graph) Operation(name string) *Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byName[name]
}

// Operations returns a list of all operations in the graph, in the order
// they were added.
func (g *Graph) Operations() []Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	operations := make([]Operation, 0, len(g.order))
	for _, op := range g.order {
		operations = append(operations, *op)
	}
	return operations
}

// NumOperations returns the number of operations in the graph.
func (g *Graph) NumOperations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// hasOperation reports whether name is taken, without copying.
func (g *Graph) hasOperation(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byName[name]
	return ok
}

// snapshot returns the operations in insertion order. The slice is a copy;
// the operations are shared.
func (g *Graph) snapshot() []*Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Operation(nil), g.order...)
}
