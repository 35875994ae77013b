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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
)

func TestFullyFactorizedNormal(t *testing.T) {
	s := op.NewScope()
	z := rv.Normal(s.SubScope("z"), constOf(s, "loc", []float64{0, 0, 0}), constOf(s, "scale", 1.0))
	qs := FullyFactorizedNormal(s.SubScope("post"), z)
	require.NoError(t, s.Err())

	q := qs[z]
	require.NotNil(t, q)
	assert.True(t, q.Shape().Equal(z.Shape()))

	params := q.Dist().Params()
	require.Len(t, params, 2)
	assert.Equal(t, "VariableV2", params[0].Op.Type())
	assert.Equal(t, "post/q/loc/VariableV2", params[0].Op.Name())
	assert.Equal(t, "Softplus", params[1].Op.Type())

	out := evaluate(t, s.Graph(), 1, params[0], params[1])
	for _, loc := range out[0].Value().([]float64) {
		assert.Equal(t, 0.0, loc)
	}
	for _, scale := range out[1].Value().([]float64) {
		assert.InDelta(t, 1.0, scale, 1e-12)
	}
}

func TestFullyFactorizedNormalMultiple(t *testing.T) {
	s := op.NewScope()
	z1 := rv.Normal(s.SubScope("z1"), constOf(s, "loc1", 0.0), constOf(s, "scale1", 1.0))
	z2 := rv.Normal(s.SubScope("z2"), constOf(s, "loc2", []float64{0, 0}), constOf(s, "scale2", 1.0))
	qs := FullyFactorizedNormal(s.SubScope("post"), z1, z2)
	require.NoError(t, s.Err())

	require.Len(t, qs, 2)
	assert.True(t, qs[z1].Shape().Equal(z1.Shape()))
	assert.True(t, qs[z2].Shape().Equal(z2.Shape()))
	assert.NotEqual(t,
		qs[z1].Dist().Params()[0].Op.Name(),
		qs[z2].Dist().Params()[0].Op.Name())
}
