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

import "fmt"

// AddGradients adds operations to compute the symbolic partial derivatives of
// the sum of tensors in y with respect to the tensors in x, returning one
// gradient output per element of x.
//
// dx optionally holds initial gradients to back-propagate through y, one per
// element of y and matching its shape. When dx is empty every y is seeded
// with ones.
//
// The added operations are named under prefix. An empty prefix selects
// "gradients", suffixed if necessary so repeated calls on one graph are safe;
// an explicit prefix that is already in use is an error. An x that y does not
// depend on yields a zero gradient of x's shape.
func (g *Graph) AddGradients(prefix string, y []Output, x []Output, dx []Output) ([]Output, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("AddGradients requires at least one y")
	}
	if len(dx) > 0 && len(dx) != len(y) {
		return nil, fmt.Errorf("AddGradients got %d dx values for %d y values", len(dx), len(y))
	}
	check := func(role string, outs []Output) error {
		for _, o := range outs {
			if o.Op == nil || o.Op.g != g {
				return fmt.Errorf("AddGradients: %s output is not part of this graph", role)
			}
			if o.DataType() != Double {
				return fmt.Errorf("AddGradients: %s output %q has type %v, gradients require %v", role, o.Op.Name(), o.DataType(), Double)
			}
		}
		return nil
	}
	if err := check("y", y); err != nil {
		return nil, err
	}
	if err := check("x", x); err != nil {
		return nil, err
	}
	if err := check("dx", dx); err != nil {
		return nil, err
	}
	for i, d := range dx {
		if !d.Shape().Equal(y[i].Shape()) {
			return nil, fmt.Errorf("AddGradients: dx[%d] has shape %v, y[%d] has shape %v", i, d.Shape(), i, y[i].Shape())
		}
	}

	nsPrefix, err := g.gradientPrefix(prefix)
	if err != nil {
		return nil, err
	}
	b := &gradientBuilder{g: g, prefix: nsPrefix}

	// Seed the outputs, summing when an output is listed more than once.
	grads := make(map[Output]Output)
	for i, out := range y {
		var seed Output
		var err error
		if len(dx) > 0 {
			seed = dx[i]
		} else if seed, err = b.onesLike(out); err != nil {
			return nil, err
		}
		if prev, ok := grads[out]; ok {
			if seed, err = b.add(prev, seed); err != nil {
				return nil, err
			}
		}
		grads[out] = seed
	}

	// Operations join the graph after their inputs, so creation order is a
	// topological order and its reverse is a valid back-propagation order.
	order := g.snapshot()
	for i := len(order) - 1; i >= 0; i-- {
		op := order[i]
		dz, ok := grads[op.Output(0)]
		if !ok {
			continue
		}
		def := ops[op.Type()]
		if def == nil || def.grad == nil {
			continue
		}
		din, err := def.grad(b, op, dz)
		if err != nil {
			return nil, fmt.Errorf("gradient of %s %q: %w", op.Type(), op.Name(), err)
		}
		if len(din) != len(op.inputs) {
			return nil, fmt.Errorf("gradient of %s produced %d values for %d inputs", op.Type(), len(din), len(op.inputs))
		}
		for j, d := range din {
			if d.Op == nil {
				continue
			}
			in := op.inputs[j]
			if prev, ok := grads[in]; ok {
				if d, err = b.add(prev, d); err != nil {
					return nil, err
				}
			}
			grads[in] = d
		}
	}

	result := make([]Output, len(x))
	for i, o := range x {
		if d, ok := grads[o]; ok {
			result[i] = d
			continue
		}
		zero, err := b.constOf(Zeros(Double, o.Shape()))
		if err != nil {
			return nil, err
		}
		result[i] = zero
	}
	return result, nil
}

// gradientPrefix returns a namespace under which no operation exists yet.
// The default prefix is suffixed until free; a caller-chosen prefix that is
// already in use is an error.
func (g *Graph) gradientPrefix(prefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	taken := func(p string) bool {
		for name := range g.byName {
			if name == p || len(name) > len(p) && name[:len(p)+1] == p+"/" {
				return true
			}
		}
		return false
	}
	if prefix != "" {
		if taken(prefix) {
			return "", fmt.Errorf("prefix %q is already in use by this graph", prefix)
		}
		return prefix, nil
	}
	if !taken("gradients") {
		return "gradients", nil
	}
	for i := 1; ; i++ {
		p := fmt.Sprintf("gradients_%d", i)
		if !taken(p) {
			return p, nil
		}
	}
}

// gradientBuilder adds the operations that make up a gradient computation,
// naming them under a common prefix.
type gradientBuilder struct {
	g      *Graph
	prefix string
	n      int
}

func (b *gradientBuilder) node(typ string, attrs map[string]any, in ...Output) (Output, error) {
	name := fmt.Sprintf("%s/%s_%d", b.prefix, typ, b.n)
	b.n++
	inputs := make([]Input, len(in))
	for i, o := range in {
		inputs[i] = o
	}
	op, err := b.g.AddOperation(OpSpec{Type: typ, Name: name, Input: inputs, Attrs: attrs})
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

func (b *gradientBuilder) add(x, y Output) (Output, error) { return b.node("Add", nil, x, y) }
func (b *gradientBuilder) sub(x, y Output) (Output, error) { return b.node("Sub", nil, x, y) }
func (b *gradientBuilder) mul(x, y Output) (Output, error) { return b.node("Mul", nil, x, y) }
func (b *gradientBuilder) div(x, y Output) (Output, error) { return b.node("Div", nil, x, y) }
func (b *gradientBuilder) neg(x Output) (Output, error)    { return b.node("Neg", nil, x) }

func (b *gradientBuilder) square(x Output) (Output, error) { return b.node("Square", nil, x) }

func (b *gradientBuilder) onesLike(x Output) (Output, error) { return b.node("OnesLike", nil, x) }

func (b *gradientBuilder) sigmoidOf(x Output) (Output, error) { return b.node("Sigmoid", nil, x) }

func (b *gradientBuilder) constOf(t *Tensor) (Output, error) {
	return b.node("Const", map[string]any{"dtype": t.DataType(), "value": t})
}

func (b *gradientBuilder) scalar(v float64) (Output, error) { return b.constOf(Scalar(v)) }

func (b *gradientBuilder) matmul(x, y Output, tx, ty bool) (Output, error) {
	return b.node("MatMul", map[string]any{"transpose_a": tx, "transpose_b": ty}, x, y)
}

func (b *gradientBuilder) transpose(x Output) (Output, error) {
	return b.node("Transpose", nil, x)
}

func (b *gradientBuilder) reshape(x Output, shape Shape) (Output, error) {
	return b.node("Reshape", map[string]any{"shape": shape}, x)
}

// reduceTo sums o over its broadcast dimensions so the result has shape want.
// It is the identity when o already has that shape.
func (b *gradientBuilder) reduceTo(o Output, want Shape) (Output, error) {
	if o.Shape().Equal(want) {
		return o, nil
	}
	return b.node("SumTo", map[string]any{"shape": want}, o)
}

// Per-operation gradient rules. Each returns one gradient per input, already
// reduced to the input's shape; a zero Output means no gradient flows to that
// input.

func gradAdd(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	da, err := b.reduceTo(dz, op.inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	db, err := b.reduceTo(dz, op.inputs[1].Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func gradSub(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	da, err := b.reduceTo(dz, op.inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	ndz, err := b.neg(dz)
	if err != nil {
		return nil, err
	}
	db, err := b.reduceTo(ndz, op.inputs[1].Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func gradMul(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	x, y := op.inputs[0], op.inputs[1]
	dzy, err := b.mul(dz, y)
	if err != nil {
		return nil, err
	}
	da, err := b.reduceTo(dzy, x.Shape())
	if err != nil {
		return nil, err
	}
	dzx, err := b.mul(dz, x)
	if err != nil {
		return nil, err
	}
	db, err := b.reduceTo(dzx, y.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func gradDiv(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	x, y := op.inputs[0], op.inputs[1]
	dzy, err := b.div(dz, y)
	if err != nil {
		return nil, err
	}
	da, err := b.reduceTo(dzy, x.Shape())
	if err != nil {
		return nil, err
	}
	// d/dy (x/y) = -x/y^2
	y2, err := b.square(y)
	if err != nil {
		return nil, err
	}
	xy2, err := b.div(x, y2)
	if err != nil {
		return nil, err
	}
	dzxy2, err := b.mul(dz, xy2)
	if err != nil {
		return nil, err
	}
	ndb, err := b.neg(dzxy2)
	if err != nil {
		return nil, err
	}
	db, err := b.reduceTo(ndb, y.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func gradNeg(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	d, err := b.neg(dz)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradSquare(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	two, err := b.scalar(2)
	if err != nil {
		return nil, err
	}
	tx, err := b.mul(two, op.inputs[0])
	if err != nil {
		return nil, err
	}
	d, err := b.mul(dz, tx)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradExp(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	// The operation's own output is exp(x).
	d, err := b.mul(dz, op.Output(0))
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradLog(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	d, err := b.div(dz, op.inputs[0])
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradSigmoid(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	// s' = s - s^2 with s the operation's own output.
	s := op.Output(0)
	s2, err := b.square(s)
	if err != nil {
		return nil, err
	}
	sp, err := b.sub(s, s2)
	if err != nil {
		return nil, err
	}
	d, err := b.mul(dz, sp)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradSoftplus(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	s, err := b.sigmoidOf(op.inputs[0])
	if err != nil {
		return nil, err
	}
	d, err := b.mul(dz, s)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradMatMul(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	x, y := op.inputs[0], op.inputs[1]
	tx, ty := attrBool(op, "transpose_a"), attrBool(op, "transpose_b")
	var da, db Output
	var err error
	switch {
	case !tx && !ty:
		if da, err = b.matmul(dz, y, false, true); err != nil {
			return nil, err
		}
		db, err = b.matmul(x, dz, true, false)
	case !tx && ty:
		if da, err = b.matmul(dz, y, false, false); err != nil {
			return nil, err
		}
		db, err = b.matmul(dz, x, true, false)
	case tx && !ty:
		if da, err = b.matmul(y, dz, false, true); err != nil {
			return nil, err
		}
		db, err = b.matmul(x, dz, false, false)
	default:
		if da, err = b.matmul(y, dz, true, true); err != nil {
			return nil, err
		}
		db, err = b.matmul(dz, x, true, true)
	}
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func gradDot(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	x, v := op.inputs[0], op.inputs[1]
	n, d := x.Shape().Size(0), x.Shape().Size(1)
	col, err := b.reshape(dz, MakeShape(n, 1))
	if err != nil {
		return nil, err
	}
	row, err := b.reshape(v, MakeShape(1, d))
	if err != nil {
		return nil, err
	}
	da, err := b.matmul(col, row, false, false)
	if err != nil {
		return nil, err
	}
	dvCol, err := b.matmul(x, col, true, false)
	if err != nil {
		return nil, err
	}
	dv, err := b.reshape(dvCol, MakeShape(d))
	if err != nil {
		return nil, err
	}
	return []Output{da, dv}, nil
}

func gradTranspose(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	d, err := b.transpose(dz)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradReshape(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	d, err := b.reshape(dz, op.inputs[0].Shape())
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradSum(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	ones, err := b.onesLike(op.inputs[0])
	if err != nil {
		return nil, err
	}
	d, err := b.mul(ones, dz)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}

func gradMean(b *gradientBuilder, op *Operation, dz Output) ([]Output, error) {
	n := op.inputs[0].Shape().NumElements()
	if n <= 0 {
		return nil, fmt.Errorf("Mean input shape %v is not fully specified", op.inputs[0].Shape())
	}
	scale, err := b.scalar(1 / float64(n))
	if err != nil {
		return nil, err
	}
	scaled, err := b.mul(dz, scale)
	if err != nil {
		return nil, err
	}
	ones, err := b.onesLike(op.inputs[0])
	if err != nil {
		return nil, err
	}
	d, err := b.mul(ones, scaled)
	if err != nil {
		return nil, err
	}
	return []Output{d}, nil
}
