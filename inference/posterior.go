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

package inference

import (
	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
)

// softplus(scaleRawInit) evaluates to one, so posterior scales start there.
const scaleRawInit = 0.5413248546129181

// FullyFactorizedNormal builds a trainable mean-field Normal posterior for
// each latent. The location starts at zero; the scale is a softplus of a
// free variable so it stays positive under unconstrained optimization.
//
// Each posterior's variables live under a "q" subscope of s, named loc and
// scale.
func FullyFactorizedNormal(s *op.Scope, latents ...*rv.RandomVariable) map[*rv.RandomVariable]*rv.RandomVariable {
	qs := make(map[*rv.RandomVariable]*rv.RandomVariable, len(latents))
	for _, z := range latents {
		zs := s.SubScope("q")
		loc := op.Variable(zs.SubScope("loc"), ed.Zeros(ed.Double, z.Shape()))
		raw := op.Variable(zs.SubScope("scale"), ed.Fill(z.Shape(), scaleRawInit))
		qs[z] = rv.Normal(zs, loc, op.Softplus(zs, raw))
	}
	return qs
}
