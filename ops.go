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

// opDef describes one operation type: its arity, static type and shape
// inference, its kernel, and its gradient rule. Operations with grad == nil
// are treated as constants by AddGradients.
type opDef struct {
	nIn    int
	infer  func(op *Operation) (DataType, Shape, error)
	kernel func(ev *evaluator, op *Operation, in []*Tensor) (*Tensor, error)
	grad   func(b *gradientBuilder, op *Operation, dz Output) ([]Output, error)
}

// ops is the registry of all operation types known to the graph. It is
// populated in init to avoid an initialization cycle through the gradient
// rules, which build graph operations themselves.
var ops map[string]*opDef

func init() {
	ops = map[string]*opDef{
		"Const": {
			nIn:    0,
			infer:  inferConst,
			kernel: kernelConst,
		},
		"Placeholder": {
			nIn:    0,
			infer:  inferPlaceholder,
			kernel: kernelPlaceholder,
		},
		"VariableV2": {
			nIn:    0,
			infer:  inferVariable,
			kernel: kernelVariable,
		},
		"Assign": {
			nIn:    2,
			infer:  inferAssign,
			kernel: kernelAssign,
		},
		"Add": {
			nIn:    2,
			infer:  inferBinary,
			kernel: kernelAdd,
			grad:   gradAdd,
		},
		"Sub": {
			nIn:    2,
			infer:  inferBinary,
			kernel: kernelSub,
			grad:   gradSub,
		},
		"Mul": {
			nIn:    2,
			infer:  inferBinary,
			kernel: kernelMul,
			grad:   gradMul,
		},
		"Div": {
			nIn:    2,
			infer:  inferBinary,
			kernel: kernelDiv,
			grad:   gradDiv,
		},
		"Less": {
			nIn:    2,
			infer:  inferBinary,
			kernel: kernelLess,
		},
		"Neg": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelNeg,
			grad:   gradNeg,
		},
		"Square": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelSquare,
			grad:   gradSquare,
		},
		"Exp": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelExp,
			grad:   gradExp,
		},
		"Log": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelLog,
			grad:   gradLog,
		},
		"Sigmoid": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelSigmoid,
			grad:   gradSigmoid,
		},
		"Softplus": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelSoftplus,
			grad:   gradSoftplus,
		},
		"MatMul": {
			nIn:    2,
			infer:  inferMatMul,
			kernel: kernelMatMul,
			grad:   gradMatMul,
		},
		"Dot": {
			nIn:    2,
			infer:  inferDot,
			kernel: kernelDot,
			grad:   gradDot,
		},
		"Transpose": {
			nIn:    1,
			infer:  inferTranspose,
			kernel: kernelTranspose,
			grad:   gradTranspose,
		},
		"Reshape": {
			nIn:    1,
			infer:  inferReshape,
			kernel: kernelReshape,
			grad:   gradReshape,
		},
		"Sum": {
			nIn:    1,
			infer:  inferReduce,
			kernel: kernelSum,
			grad:   gradSum,
		},
		"Mean": {
			nIn:    1,
			infer:  inferReduce,
			kernel: kernelMean,
			grad:   gradMean,
		},
		"OnesLike": {
			nIn:    1,
			infer:  inferUnary,
			kernel: kernelOnesLike,
		},
		"SumTo": {
			nIn:    1,
			infer:  inferSumTo,
			kernel: kernelSumTo,
		},
		"RandomStandardNormal": {
			nIn:    0,
			infer:  inferRandom,
			kernel: kernelRandom,
		},
		"RandomUniform": {
			nIn:    0,
			infer:  inferRandom,
			kernel: kernelRandomUniform,
		},
	}
}

// Attribute access helpers. Inference runs before the operation joins the
// graph, so errors here surface as AddOperation errors.

func attrTensor(op *Operation, name string) (*Tensor, error) {
	v, ok := op.attrs[name]
	if !ok {
		return nil, fmt.Errorf("missing attribute %q", name)
	}
	t, ok := v.(*Tensor)
	if !ok {
		return nil, fmt.Errorf("attribute %q must be a *Tensor, got %T", name, v)
	}
	return t, nil
}

func attrDataType(op *Operation, name string) (DataType, error) {
	v, ok := op.attrs[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", name)
	}
	dt, ok := v.(DataType)
	if !ok {
		return 0, fmt.Errorf("attribute %q must be a DataType, got %T", name, v)
	}
	return dt, nil
}

func attrShape(op *Operation, name string) (Shape, error) {
	v, ok := op.attrs[name]
	if !ok {
		return Shape{}, fmt.Errorf("missing attribute %q", name)
	}
	s, ok := v.(Shape)
	if !ok {
		return Shape{}, fmt.Errorf("attribute %q must be a Shape, got %T", name, v)
	}
	return s, nil
}

func attrBool(op *Operation, name string) bool {
	if v, ok := op.attrs[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func attrInt64(op *Operation, name string) int64 {
	if v, ok := op.attrs[name]; ok {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		}
	}
	return 0
}

// Inference functions.

func inferConst(op *Operation) (DataType, Shape, error) {
	t, err := attrTensor(op, "value")
	if err != nil {
		return 0, Shape{}, err
	}
	if dt, err := attrDataType(op, "dtype"); err == nil && dt != t.DataType() {
		return 0, Shape{}, fmt.Errorf("dtype attribute %v disagrees with value tensor type %v", dt, t.DataType())
	}
	return t.DataType(), t.Shape(), nil
}

func inferPlaceholder(op *Operation) (DataType, Shape, error) {
	dt, err := attrDataType(op, "dtype")
	if err != nil {
		return 0, Shape{}, err
	}
	shape, err := attrShape(op, "shape")
	if err != nil {
		return 0, Shape{}, err
	}
	if !shape.IsFullySpecified() {
		return 0, Shape{}, fmt.Errorf("placeholder shape %v must be fully specified", shape)
	}
	return dt, shape, nil
}

func inferVariable(op *Operation) (DataType, Shape, error) {
	t, err := attrTensor(op, "init")
	if err != nil {
		return 0, Shape{}, err
	}
	return t.DataType(), t.Shape(), nil
}

func inferAssign(op *Operation) (DataType, Shape, error) {
	ref, value := op.inputs[0], op.inputs[1]
	if ref.Op.Type() != "VariableV2" {
		return 0, Shape{}, fmt.Errorf("Assign requires a variable as first input, got %s", ref.Op.Type())
	}
	if ref.DataType() != value.DataType() {
		return 0, Shape{}, fmt.Errorf("cannot assign %v value to %v variable", value.DataType(), ref.DataType())
	}
	if !ref.Shape().Equal(value.Shape()) {
		return 0, Shape{}, fmt.Errorf("cannot assign shape %v to variable of shape %v", value.Shape(), ref.Shape())
	}
	return value.DataType(), value.Shape(), nil
}

func inferBinary(op *Operation) (DataType, Shape, error) {
	a, b := op.inputs[0], op.inputs[1]
	if a.DataType() != Double || b.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("%s requires double tensors, got %v and %v", op.opType, a.DataType(), b.DataType())
	}
	shape, err := broadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return 0, Shape{}, fmt.Errorf("%s: %w", op.opType, err)
	}
	return Double, shape, nil
}

func inferUnary(op *Operation) (DataType, Shape, error) {
	a := op.inputs[0]
	if a.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("%s requires a double tensor, got %v", op.opType, a.DataType())
	}
	return Double, a.Shape(), nil
}

func inferMatMul(op *Operation) (DataType, Shape, error) {
	a, b := op.inputs[0], op.inputs[1]
	if a.DataType() != Double || b.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("MatMul requires double tensors, got %v and %v", a.DataType(), b.DataType())
	}
	as, bs := a.Shape(), b.Shape()
	if as.NumDimensions() != 2 || bs.NumDimensions() != 2 {
		return 0, Shape{}, fmt.Errorf("MatMul requires rank-2 tensors, got %v and %v", as, bs)
	}
	m, ka := as.Size(0), as.Size(1)
	if attrBool(op, "transpose_a") {
		m, ka = ka, m
	}
	kb, n := bs.Size(0), bs.Size(1)
	if attrBool(op, "transpose_b") {
		kb, n = n, kb
	}
	if ka != kb {
		return 0, Shape{}, fmt.Errorf("MatMul inner dimensions disagree: %v x %v", as, bs)
	}
	return Double, MakeShape(m, n), nil
}

func inferDot(op *Operation) (DataType, Shape, error) {
	a, b := op.inputs[0], op.inputs[1]
	if a.DataType() != Double || b.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("Dot requires double tensors, got %v and %v", a.DataType(), b.DataType())
	}
	as, bs := a.Shape(), b.Shape()
	if as.NumDimensions() != 2 || bs.NumDimensions() != 1 {
		return 0, Shape{}, fmt.Errorf("Dot requires a matrix and a vector, got %v and %v", as, bs)
	}
	if as.Size(1) != bs.Size(0) {
		return 0, Shape{}, fmt.Errorf("Dot dimensions disagree: %v x %v", as, bs)
	}
	return Double, MakeShape(as.Size(0)), nil
}

func inferTranspose(op *Operation) (DataType, Shape, error) {
	a := op.inputs[0]
	if a.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("Transpose requires a double tensor, got %v", a.DataType())
	}
	s := a.Shape()
	if s.NumDimensions() != 2 {
		return 0, Shape{}, fmt.Errorf("Transpose requires a rank-2 tensor, got %v", s)
	}
	return Double, MakeShape(s.Size(1), s.Size(0)), nil
}

func inferReshape(op *Operation) (DataType, Shape, error) {
	a := op.inputs[0]
	want, err := attrShape(op, "shape")
	if err != nil {
		return 0, Shape{}, err
	}
	resolved, err := resolveReshape(a.Shape(), want)
	if err != nil {
		return 0, Shape{}, err
	}
	return a.DataType(), resolved, nil
}

// resolveReshape fills in at most one -1 wildcard in want so that the total
// element count matches from.
func resolveReshape(from, want Shape) (Shape, error) {
	dims, err := want.ToSlice()
	if err != nil {
		return Shape{}, err
	}
	n := from.NumElements()
	wildcard := -1
	known := int64(1)
	for i, d := range dims {
		if d == -1 {
			if wildcard >= 0 {
				return Shape{}, fmt.Errorf("reshape target %v has more than one -1", want)
			}
			wildcard = i
			continue
		}
		if d < 0 {
			return Shape{}, fmt.Errorf("reshape target %v has invalid size %d", want, d)
		}
		known *= d
	}
	if wildcard >= 0 {
		if known == 0 || n%known != 0 {
			return Shape{}, fmt.Errorf("cannot reshape %d elements into %v", n, want)
		}
		dims[wildcard] = n / known
	} else if known != n {
		return Shape{}, fmt.Errorf("cannot reshape %d elements into %v (%d elements)", n, want, known)
	}
	return MakeShape(dims...), nil
}

func inferReduce(op *Operation) (DataType, Shape, error) {
	a := op.inputs[0]
	if a.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("%s requires a double tensor, got %v", op.opType, a.DataType())
	}
	return Double, ScalarShape(), nil
}

func inferSumTo(op *Operation) (DataType, Shape, error) {
	a := op.inputs[0]
	if a.DataType() != Double {
		return 0, Shape{}, fmt.Errorf("SumTo requires a double tensor, got %v", a.DataType())
	}
	target, err := attrShape(op, "shape")
	if err != nil {
		return 0, Shape{}, err
	}
	expanded, err := broadcastShapes(a.Shape(), target)
	if err != nil || !expanded.Equal(a.Shape()) {
		return 0, Shape{}, fmt.Errorf("shape %v does not broadcast to %v", target, a.Shape())
	}
	return Double, target, nil
}

func inferRandom(op *Operation) (DataType, Shape, error) {
	shape, err := attrShape(op, "shape")
	if err != nil {
		return 0, Shape{}, err
	}
	if !shape.IsFullySpecified() {
		return 0, Shape{}, fmt.Errorf("random shape %v must be fully specified", shape)
	}
	return Double, shape, nil
}
