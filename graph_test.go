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
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func hasOperations(g *Graph, ops ...string) error {
	var missing []string
	for _, op := range ops {
		if g.Operation(op) == nil {
			missing = append(missing, op)
		}
	}
	if len(missing) != 0 {
		return fmt.Errorf("Graph does not have the operations %v", missing)
	}

	inList := map[string]bool{}
	for _, op := range g.Operations() {
		inList[op.Name()] = true
	}

	for _, op := range ops {
		if !inList[op] {
			missing = append(missing, op)
		}
	}

	if len(missing) != 0 {
		return fmt.Errorf("Operations %v are missing from graph.Operations()", missing)
	}

	return nil
}

func TestGraphWriteToAndImport(t *testing.T) {
	// Construct a graph
	g := NewGraph()
	input, err := Placeholder(g, "input", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Neg(g, "neg", input); err != nil {
		t.Fatal(err)
	}

	// Serialize the graph
	buf := new(bytes.Buffer)
	if _, err := g.WriteTo(buf); err != nil {
		t.Fatal(err)
	}

	// Import it into the same graph, with a prefix
	if err := g.Import(buf.Bytes(), "imported"); err != nil {
		t.Error(err)
	}
	if err := hasOperations(g, "input", "neg", "imported/input", "imported/neg"); err != nil {
		t.Error(err)
	}
}

func TestGraphImportedRuns(t *testing.T) {
	// Construct and serialize a graph
	g := NewGraph()
	input, err := Placeholder(g, "input", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Neg(g, "neg", input); err != nil {
		t.Fatal(err)
	}
	buf := new(bytes.Buffer)
	if _, err := g.WriteTo(buf); err != nil {
		t.Fatal(err)
	}

	// Import it into a fresh graph and evaluate the imported operation.
	g = NewGraph()
	if err := g.Import(buf.Bytes(), "imported"); err != nil {
		t.Fatal(err)
	}
	if err := hasOperations(g, "imported/input", "imported/neg"); err != nil {
		t.Fatal(err)
	}
	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	neg := g.Operation("imported/neg").Output(0)
	in := g.Operation("imported/input").Output(0)
	outputs, err := sess.Run(
		map[Output]*Tensor{in: Scalar(1)},
		[]Output{neg},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 1 {
		t.Fatal(len(outputs))
	}
	if outputs[0].Value().(float64) != -1 {
		t.Fatalf("Got %v, wanted float64 -1", outputs[0].Value())
	}
}

func TestGraphAddGradients(t *testing.T) {
	g := NewGraph()
	x1, err := Placeholder(g, "x1", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	x2, err := Placeholder(g, "x2", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	op0, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y0",
		Input: []Input{x1},
	})
	if err != nil {
		t.Fatal(err)
	}
	y0 := op0.Output(0)
	op1, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y1",
		Input: []Input{y0},
	})
	if err != nil {
		t.Fatal(err)
	}
	y1 := op1.Output(0)
	y2, err := Add(g, "y2", y0, x2)
	if err != nil {
		t.Fatal(err)
	}

	grads0, err := g.AddGradients("", []Output{y1}, []Output{x1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(grads0) != 1 {
		t.Fatal(len(grads0))
	}
	if grads0[0].DataType() != Double {
		t.Fatalf("Got DataType %v, wanted %v", grads0[0].DataType(), Double)
	}

	grads1, err := g.AddGradients("", []Output{y2}, []Output{x1, x2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(grads1) != 2 {
		t.Fatal(len(grads1))
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatal(err)
	}

	outputs, err := sess.Run(
		map[Output]*Tensor{x1: Scalar(3), x2: Scalar(2)},
		[]Output{grads0[0], grads1[0], grads1[1]},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 3 {
		t.Fatal(len(outputs))
	}
	if outputs[0].Value().(float64) != 108.0 {
		t.Fatalf("Got %v, wanted float 108.0", outputs[0].Value())
	}
	if outputs[1].Value().(float64) != 6.0 {
		t.Fatalf("Got %v, wanted float 6.0", outputs[1].Value())
	}
	if outputs[2].Value().(float64) != 1.0 {
		t.Fatalf("Got %v, wanted float 1.0", outputs[2].Value())
	}
}

func TestGraphAddGradientsSums(t *testing.T) {
	g := NewGraph()
	x, err := Placeholder(g, "x", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	op0, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y0",
		Input: []Input{x},
	})
	if err != nil {
		t.Fatal(err)
	}
	y0 := op0.Output(0)
	op1, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y1",
		Input: []Input{y0},
	})
	if err != nil {
		t.Fatal(err)
	}
	y1 := op1.Output(0)

	grad, err := g.AddGradients("", []Output{y0, y1}, []Output{x}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(grad) != 1 {
		t.Fatal(len(grad))
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatal(err)
	}

	outputs, err := sess.Run(
		map[Output]*Tensor{x: Scalar(3)},
		[]Output{grad[0]},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if outputs[0].Value().(float64) != 114.0 {
		t.Fatalf("Got %v, wanted float 114.0", outputs[0].Value())
	}
}

func TestGraphAddGradientsWithInitialValues(t *testing.T) {
	g := NewGraph()
	x, err := Placeholder(g, "x", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	op0, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y0",
		Input: []Input{x},
	})
	if err != nil {
		t.Fatal(err)
	}
	y0 := op0.Output(0)
	op1, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y1",
		Input: []Input{y0},
	})
	if err != nil {
		t.Fatal(err)
	}
	y1 := op1.Output(0)

	grads0, err := g.AddGradients("", []Output{y1}, []Output{y0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(grads0) != 1 {
		t.Fatal(len(grads0))
	}

	grads1, err := g.AddGradients("", []Output{y0}, []Output{x}, []Output{grads0[0]})
	if err != nil {
		t.Fatal(err)
	}
	if len(grads1) != 1 {
		t.Fatal(len(grads1))
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatal(err)
	}

	outputs, err := sess.Run(
		map[Output]*Tensor{x: Scalar(3)},
		[]Output{grads1[0]},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if outputs[0].Value().(float64) != 108.0 {
		t.Fatalf("Got %v, wanted float 108.0", outputs[0].Value())
	}
}

func TestGraphValidateGradientsNames(t *testing.T) {
	g := NewGraph()
	x, err := Placeholder(g, "x", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	op0, err := g.AddOperation(OpSpec{
		Type:  "Square",
		Name:  "y0",
		Input: []Input{x},
	})
	if err != nil {
		t.Fatal(err)
	}
	y0 := op0.Output(0)

	grads0, err := g.AddGradients("", []Output{y0}, []Output{x}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(grads0[0].Op.Name(), "gradients/") {
		t.Fatalf("Got name %v, wanted started with gradients/", grads0[0].Op.Name())
	}

	grads1, err := g.AddGradients("", []Output{y0}, []Output{x}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(grads1[0].Op.Name(), "gradients_1/") {
		t.Fatalf("Got name %v, wanted started with gradients_1/", grads1[0].Op.Name())
	}

	grads2, err := g.AddGradients("more_gradients", []Output{y0}, []Output{x}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(grads2[0].Op.Name(), "more_gradients/") {
		t.Fatalf("Got name %v, wanted started with more_gradients/", grads2[0].Op.Name())
	}

	_, err = g.AddGradients("more_gradients", []Output{y0}, []Output{x}, nil)
	if err == nil {
		t.Error("AddGradients should have failed if gradients name is already existing")
	}
}

func TestGraphConstruction(t *testing.T) {
	g := NewGraph()
	if _, err := g.AddOperation(OpSpec{Type: "NoSuchOp", Name: "x"}); err == nil {
		t.Error("Expected error for an unknown operation type")
	}
	if _, err := Const(g, "c", float64(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := Const(g, "c", float64(2)); err == nil {
		t.Error("Expected error for a duplicate operation name")
	}

	other := NewGraph()
	c := g.Operation("c").Output(0)
	if _, err := Neg(other, "neg", c); err == nil {
		t.Error("Expected error for an input from another graph")
	}

	if got, want := g.NumOperations(), 1; got != want {
		t.Errorf("Got %d operations, want %d", got, want)
	}
}

func TestOperationInputs(t *testing.T) {
	g := NewGraph()
	x, err := Placeholder(g, "x", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	c, err := Const(g, "c", float64(2))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := Add(g, "sum", x, c)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sum.Op.NumInputs(), 2; got != want {
		t.Fatalf("Got %d inputs, want %d", got, want)
	}
	if got := sum.Op.Input(0); got != x {
		t.Errorf("Got input %v, want %v", got, x)
	}
	if got := sum.Op.Input(1); got != c {
		t.Errorf("Got input %v, want %v", got, c)
	}
}

func TestGraphCloneOperation(t *testing.T) {
	g := NewGraph()
	x, err := Placeholder(g, "x", Double, ScalarShape())
	if err != nil {
		t.Fatal(err)
	}
	c, err := Const(g, "c", float64(2))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := Add(g, "sum", x, c)
	if err != nil {
		t.Fatal(err)
	}

	// Clone sum so it reads x twice instead of x and the constant.
	clone, err := g.CloneOperation(sum.Op, "sum_clone", []Input{x, x})
	if err != nil {
		t.Fatal(err)
	}
	// Clone the constant as well. Its value travels in the attributes.
	c2, err := g.CloneOperation(c.Op, "c_clone", nil)
	if err != nil {
		t.Fatal(err)
	}

	sess, err := NewSession(g, nil)
	if err != nil {
		t.Fatal(err)
	}
	outputs, err := sess.Run(
		map[Output]*Tensor{x: Scalar(3)},
		[]Output{sum, clone.Output(0), c2.Output(0)},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := outputs[0].Value().(float64), 5.0; got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
	if got, want := outputs[1].Value().(float64), 6.0; got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
	if got, want := outputs[2].Value().(float64), 2.0; got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
}

func TestGraphCloneOperationAcrossGraphs(t *testing.T) {
	g1 := NewGraph()
	if _, err := Const(g1, "c", float64(4)); err != nil {
		t.Fatal(err)
	}

	g2 := NewGraph()
	op, err := g2.CloneOperation(g1.Operation("c"), "c", nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := NewSession(g2, nil)
	if err != nil {
		t.Fatal(err)
	}
	outputs, err := sess.Run(nil, []Output{op.Output(0)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := outputs[0].Value().(float64), 4.0; got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
}

func TestGraphCloneOperationErrors(t *testing.T) {
	g := NewGraph()
	c, err := Const(g, "c", float64(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.CloneOperation(nil, "x", nil); err == nil {
		t.Error("Expected error for a nil source operation")
	}
	if _, err := g.CloneOperation(c.Op, "c", nil); err == nil {
		t.Error("Expected error for a duplicate operation name")
	}
}
