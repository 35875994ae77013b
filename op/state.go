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

// Placeholder inserts a placeholder for a tensor that will be always fed.
//
// Evaluating the returned output produces an error unless Session.Run feeds
// a value for it. The shape must be fully specified.
func Placeholder(scope *Scope, dtype ed.DataType, shape ed.Shape) (output ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Placeholder",
		Attrs: map[string]interface{}{
			"dtype": dtype,
			"shape": shape,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Variable holds state that persists across calls to Session.Run.
//
// The variable takes its type and shape from init and produces init until
// an Assign (or a host-side optimizer step) replaces its value. Each Session
// holds its own copy of the state.
func Variable(scope *Scope, init *ed.Tensor) (ref ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "VariableV2",
		Attrs: map[string]interface{}{
			"init": init,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// Assign updates ref by assigning value to it, producing the new value.
//
// ref must be the output of a Variable. The assignment happens when the
// returned output (or its operation) is evaluated.
func Assign(scope *Scope, ref ed.Output, value ed.Output) (output ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "Assign",
		Input: []ed.Input{
			ref, value,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}
