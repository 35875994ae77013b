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

package op

import (
	ed "github.com/edward-ml/edward"
)

// Add returns x + y element-wise.
//
// Add supports broadcasting over trailing dimensions.
func Add(scope *Scope, x ed.Output, y ed.Output) (z ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Add",
		Input: []ed.Input{
			x, y,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Sub returns x - y element-wise.
//
// Sub supports broadcasting over trailing dimensions.
func Sub(scope *Scope, x ed.Output, y ed.Output) (z ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Sub",
		Input: []ed.Input{
			x, y,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Mul returns x * y element-wise.
//
// Mul supports broadcasting over trailing dimensions.
func Mul(scope *Scope, x ed.Output, y ed.Output) (z ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Mul",
		Input: []ed.Input{
			x, y,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Div returns x / y element-wise.
//
// Div supports broadcasting over trailing dimensions.
func Div(scope *Scope, x ed.Output, y ed.Output) (z ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Div",
		Input: []ed.Input{
			x, y,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Less returns 1 where x < y and 0 elsewhere, element-wise. No gradient is
// defined for the comparison.
func Less(scope *Scope, x ed.Output, y ed.Output) (z ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Less",
		Input: []ed.Input{
			x, y,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Neg computes numerical negative value element-wise.
func Neg(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Neg",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Square computes square of x element-wise.
func Square(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Square",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Exp computes exponential of x element-wise.
func Exp(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Exp",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Log computes natural logarithm of x element-wise.
func Log(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Log",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Sigmoid computes sigmoid of x element-wise, 1 / (1 + exp(-x)).
func Sigmoid(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Sigmoid",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Softplus computes softplus of x element-wise, log(exp(x) + 1).
func Softplus(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Softplus",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// MatMulAttr is an optional argument to MatMul.
type MatMulAttr func(optionalAttr)

// MatMulTransposeA sets the optional transpose_a attribute to value.
//
// value: If true, "a" is transposed before multiplication.
// If not specified, defaults to false
func MatMulTransposeA(value bool) MatMulAttr {
	return func(m optionalAttr) {
		m["transpose_a"] = value
	}
}

// MatMulTransposeB sets the optional transpose_b attribute to value.
//
// value: If true, "b" is transposed before multiplication.
// If not specified, defaults to false
func MatMulTransposeB(value bool) MatMulAttr {
	return func(m optionalAttr) {
		m["transpose_b"] = value
	}
}

// MatMul multiplies matrix a by matrix b, producing a * b.
//
// The inputs must be two-dimensional matrices and the inner dimension of a
// (after being transposed if transpose_a is true) must match the outer
// dimension of b (after being transposed if transposed_b is true).
func MatMul(scope *Scope, a ed.Output, b ed.Output, optional ...MatMulAttr) (product ed.Output) {
	if scope.Err() != nil {
		return
	}
	attrs := map[string]interface{}{}
	for _, a := range optional {
		a(attrs)
	}
	opspec := ed.OpSpec{
		Type: "MatMul",
		Input: []ed.Input{
			a, b,
		},
		Attrs: attrs,
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Dot multiplies matrix x by vector v, producing the vector x * v.
//
// The inner dimension of x must match the length of v.
func Dot(scope *Scope, x ed.Output, v ed.Output) (product ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Dot",
		Input: []ed.Input{
			x, v,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Sum computes the sum of all elements of x, producing a scalar.
func Sum(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Sum",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Mean computes the mean of all elements of x, producing a scalar.
func Mean(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Mean",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}
