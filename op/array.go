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

// Transpose swaps the two dimensions of a matrix.
func Transpose(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Transpose",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Reshape reshapes a tensor to shape, preserving its elements.
//
// At most one dimension of shape may be -1; its size is computed so that the
// total number of elements stays constant.
func Reshape(scope *Scope, x ed.Output, shape ed.Shape) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Reshape",
		Input: []ed.Input{
			x,
		},
		Attrs: map[string]interface{}{
			"shape": shape,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// OnesLike returns a tensor of ones with the same shape as x.
func OnesLike(scope *Scope, x ed.Output) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "OnesLike",
		Input: []ed.Input{
			x,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// SumTo sums x over its broadcast dimensions, producing a tensor of the
// given shape. shape must broadcast to the shape of x.
func SumTo(scope *Scope, x ed.Output, shape ed.Shape) (y ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "SumTo",
		Input: []ed.Input{
			x,
		},
		Attrs: map[string]interface{}{
			"shape": shape,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}
