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
	"math"
)

// broadcastShapes returns the shape produced by broadcasting a against b.
// Shapes broadcast over trailing dimensions: aligned dimensions must be equal
// or one of them must be 1, and a missing leading dimension counts as 1.
func broadcastShapes(a, b Shape) (Shape, error) {
	ad, err := a.ToSlice()
	if err != nil {
		return Shape{}, fmt.Errorf("broadcasting requires a known rank, got %v", a)
	}
	bd, err := b.ToSlice()
	if err != nil {
		return Shape{}, fmt.Errorf("broadcasting requires a known rank, got %v", b)
	}
	n := len(ad)
	if len(bd) > n {
		n = len(bd)
	}
	dims := make([]int64, n)
	for i := range dims {
		da, db := int64(1), int64(1)
		if j := i - (n - len(ad)); j >= 0 {
			da = ad[j]
		}
		if j := i - (n - len(bd)); j >= 0 {
			db = bd[j]
		}
		switch {
		case da == db:
			dims[i] = da
		case da == 1:
			dims[i] = db
		case db == 1:
			dims[i] = da
		case da == -1 || db == -1:
			dims[i] = -1
		default:
			return Shape{}, fmt.Errorf("cannot broadcast %v with %v", a, b)
		}
	}
	return MakeShape(dims...), nil
}

// broadcastStrides returns row-major strides into a flat array of shape in,
// aligned to the trailing dimensions of out. Size-1 dimensions and dimensions
// missing from in get stride 0, so the same element is reused along them.
func broadcastStrides(out, in []int64) []int64 {
	strides := make([]int64, len(out))
	stride := int64(1)
	for i := len(in) - 1; i >= 0; i-- {
		if in[i] != 1 {
			strides[i+len(out)-len(in)] = stride
		}
		stride *= in[i]
	}
	return strides
}

func flatIndex(idx, strides []int64) int64 {
	var n int64
	for i, v := range idx {
		n += v * strides[i]
	}
	return n
}

// advance steps a multi-dimensional index to the next element in row-major
// order, wrapping back to all zeros after the last element.
func advance(idx, dims []int64) {
	for d := len(dims) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < dims[d] {
			return
		}
		idx[d] = 0
	}
}

func applyBinary(a, b *Tensor, f func(x, y float64) float64) (*Tensor, error) {
	av, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	bv, err := b.Float64s()
	if err != nil {
		return nil, err
	}
	shape, err := broadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	dims, _ := shape.ToSlice()
	as := broadcastStrides(dims, mustSlice(a.Shape()))
	bs := broadcastStrides(dims, mustSlice(b.Shape()))
	flat := make([]float64, shape.NumElements())
	idx := make([]int64, len(dims))
	for i := range flat {
		flat[i] = f(av[flatIndex(idx, as)], bv[flatIndex(idx, bs)])
		advance(idx, dims)
	}
	return NewTensorValue(Double, shape, flat)
}

func applyUnary(a *Tensor, f func(x float64) float64) (*Tensor, error) {
	av, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	flat := make([]float64, len(av))
	for i, v := range av {
		flat[i] = f(v)
	}
	return NewTensorValue(Double, a.Shape(), flat)
}

// mustSlice returns the dimensions of a shape known to be fully ranked.
// Tensors always carry such shapes.
func mustSlice(s Shape) []int64 {
	dims, err := s.ToSlice()
	if err != nil {
		panic(err)
	}
	return dims
}

func kernelConst(_ *evaluator, op *Operation, _ []*Tensor) (*Tensor, error) {
	return attrTensor(op, "value")
}

func kernelPlaceholder(ev *evaluator, op *Operation, _ []*Tensor) (*Tensor, error) {
	if t, ok := ev.feeds[op.Output(0)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("placeholder %q was not fed", op.Name())
}

func kernelVariable(ev *evaluator, op *Operation, _ []*Tensor) (*Tensor, error) {
	return ev.sess.variableValue(op)
}

func kernelAssign(ev *evaluator, op *Operation, in []*Tensor) (*Tensor, error) {
	if err := ev.sess.setVariable(op.inputs[0].Op, in[1]); err != nil {
		return nil, err
	}
	return in[1], nil
}

func kernelAdd(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyBinary(in[0], in[1], func(x, y float64) float64 { return x + y })
}

func kernelSub(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyBinary(in[0], in[1], func(x, y float64) float64 { return x - y })
}

func kernelMul(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyBinary(in[0], in[1], func(x, y float64) float64 { return x * y })
}

func kernelDiv(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyBinary(in[0], in[1], func(x, y float64) float64 { return x / y })
}

func kernelLess(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyBinary(in[0], in[1], func(x, y float64) float64 {
		if x < y {
			return 1
		}
		return 0
	})
}

func kernelNeg(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], func(x float64) float64 { return -x })
}

func kernelSquare(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], func(x float64) float64 { return x * x })
}

func kernelExp(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], math.Exp)
}

func kernelLog(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], math.Log)
}

// sigmoid computes 1/(1+exp(-x)) without overflowing for large |x|.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// softplus computes log(1+exp(x)), saturating to x for large x and to exp(x)
// for very negative x.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

func kernelSigmoid(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], sigmoid)
}

func kernelSoftplus(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return applyUnary(in[0], softplus)
}

func kernelMatMul(_ *evaluator, op *Operation, in []*Tensor) (*Tensor, error) {
	a, b := in[0], in[1]
	av, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	bv, err := b.Float64s()
	if err != nil {
		return nil, err
	}
	ar, ac := a.Shape().Size(0), a.Shape().Size(1)
	br, bc := b.Shape().Size(0), b.Shape().Size(1)
	ta, tb := attrBool(op, "transpose_a"), attrBool(op, "transpose_b")
	m, k := ar, ac
	if ta {
		m, k = ac, ar
	}
	kb, n := br, bc
	if tb {
		kb, n = bc, br
	}
	if k != kb {
		return nil, fmt.Errorf("MatMul inner dimensions disagree: %v x %v", a.Shape(), b.Shape())
	}
	at := func(i, j int64) float64 {
		if ta {
			i, j = j, i
		}
		return av[i*ac+j]
	}
	bt := func(i, j int64) float64 {
		if tb {
			i, j = j, i
		}
		return bv[i*bc+j]
	}
	flat := make([]float64, m*n)
	for i := int64(0); i < m; i++ {
		for j := int64(0); j < n; j++ {
			var sum float64
			for p := int64(0); p < k; p++ {
				sum += at(i, p) * bt(p, j)
			}
			flat[i*n+j] = sum
		}
	}
	return NewTensorValue(Double, MakeShape(m, n), flat)
}

func kernelDot(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	a, b := in[0], in[1]
	av, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	bv, err := b.Float64s()
	if err != nil {
		return nil, err
	}
	n, d := a.Shape().Size(0), a.Shape().Size(1)
	if d != int64(len(bv)) {
		return nil, fmt.Errorf("Dot dimensions disagree: %v x %v", a.Shape(), b.Shape())
	}
	flat := make([]float64, n)
	for i := int64(0); i < n; i++ {
		var sum float64
		for j := int64(0); j < d; j++ {
			sum += av[i*d+j] * bv[j]
		}
		flat[i] = sum
	}
	return NewTensorValue(Double, MakeShape(n), flat)
}

func kernelTranspose(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	a := in[0]
	av, err := a.Float64s()
	if err != nil {
		return nil, err
	}
	r, c := a.Shape().Size(0), a.Shape().Size(1)
	flat := make([]float64, len(av))
	for i := int64(0); i < r; i++ {
		for j := int64(0); j < c; j++ {
			flat[j*r+i] = av[i*c+j]
		}
	}
	return NewTensorValue(Double, MakeShape(c, r), flat)
}

func kernelReshape(_ *evaluator, op *Operation, in []*Tensor) (*Tensor, error) {
	flat, err := in[0].Float64s()
	if err != nil {
		return nil, err
	}
	want, err := attrShape(op, "shape")
	if err != nil {
		return nil, err
	}
	shape, err := resolveReshape(in[0].Shape(), want)
	if err != nil {
		return nil, err
	}
	return NewTensorValue(in[0].DataType(), shape, flat)
}

func kernelSum(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	av, err := in[0].Float64s()
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range av {
		sum += v
	}
	return Scalar(sum), nil
}

func kernelMean(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	av, err := in[0].Float64s()
	if err != nil {
		return nil, err
	}
	if len(av) == 0 {
		return nil, fmt.Errorf("Mean of an empty tensor")
	}
	var sum float64
	for _, v := range av {
		sum += v
	}
	return Scalar(sum / float64(len(av))), nil
}

func kernelOnesLike(_ *evaluator, _ *Operation, in []*Tensor) (*Tensor, error) {
	return Fill(in[0].Shape(), 1), nil
}

func kernelSumTo(_ *evaluator, op *Operation, in []*Tensor) (*Tensor, error) {
	src := in[0]
	sv, err := src.Float64s()
	if err != nil {
		return nil, err
	}
	target, err := attrShape(op, "shape")
	if err != nil {
		return nil, err
	}
	sdims := mustSlice(src.Shape())
	tdims, err := target.ToSlice()
	if err != nil {
		return nil, err
	}
	strides := broadcastStrides(sdims, tdims)
	flat := make([]float64, target.NumElements())
	idx := make([]int64, len(sdims))
	for _, v := range sv {
		flat[flatIndex(idx, strides)] += v
		advance(idx, sdims)
	}
	return NewTensorValue(Double, target, flat)
}

func kernelRandom(ev *evaluator, op *Operation, _ []*Tensor) (*Tensor, error) {
	shape, err := attrShape(op, "shape")
	if err != nil {
		return nil, err
	}
	rng := ev.rng(op)
	flat := make([]float64, shape.NumElements())
	for i := range flat {
		flat[i] = rng.NormFloat64()
	}
	return NewTensorValue(Double, shape, flat)
}

func kernelRandomUniform(ev *evaluator, op *Operation, _ []*Tensor) (*Tensor, error) {
	shape, err := attrShape(op, "shape")
	if err != nil {
		return nil, err
	}
	rng := ev.rng(op)
	flat := make([]float64, shape.NumElements())
	for i := range flat {
		flat[i] = rng.Float64()
	}
	return NewTensorValue(Double, shape, flat)
}
