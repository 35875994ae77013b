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

// RandomStandardNormal outputs values drawn from a normal distribution with
// mean 0 and standard deviation 1.
//
// A fresh draw is produced on every Session.Run call; within one call the
// output is evaluated once and shared by all its consumers. The stream of
// draws is determined by the session seed and the operation name.
func RandomStandardNormal(scope *Scope, shape ed.Shape) (output ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "RandomStandardNormal",
		Attrs: map[string]interface{}{
			"shape": shape,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}

// RandomUniform outputs values drawn uniformly from [0, 1).
//
// Draws behave as RandomStandardNormal's do: fresh per Session.Run call,
// shared within one call, reproducible under a fixed session seed.
func RandomUniform(scope *Scope, shape ed.Shape) (output ed.Output) {
	if scope.Err() != nil {
		return
	}
	opspec := ed.OpSpec{
		Type: "RandomUniform",
		Attrs: map[string]interface{}{
			"shape": shape,
		},
	}
	op := scope.AddOperation(opspec)
	return op.Output(0)
}
