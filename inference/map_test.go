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
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
	"github.com/edward-ml/edward/train"
)

// regressionData builds a noise-free linear dataset with weights (2, -1)
// and intercept 0.5.
func regressionData() (features [][]float64, targets []float64) {
	const n = 20
	features = make([][]float64, n)
	targets = make([]float64, n)
	for i := 0; i < n; i++ {
		x1 := float64(i-10) / 5
		x2 := float64((i*7)%13-6) / 3
		features[i] = []float64{x1, x2}
		targets[i] = 2*x1 - x2 + 0.5
	}
	return features, targets
}

func TestMAPLinearRegression(t *testing.T) {
	features, targets := regressionData()

	s := op.NewScope()
	x := constOf(s, "features", features)
	w := rv.Normal(s.SubScope("w"), constOf(s, "w_loc", []float64{0, 0}), constOf(s, "w_scale", 1.0))
	b := rv.Normal(s.SubScope("b"), constOf(s, "b_loc", 0.0), constOf(s, "b_scale", 1.0))
	yhat := op.Add(s.SubScope("yhat"), op.Dot(s.SubScope("xw"), x, w.Value()), b.Value())
	y := rv.Normal(s.SubScope("y"), yhat, constOf(s, "noise", 0.1))
	require.NoError(t, s.Err())

	m, err := NewMAP(s.SubScope("inference"), []*rv.RandomVariable{w, b},
		map[*rv.RandomVariable]*ed.Tensor{y: tensorOf(t, targets)})
	require.NoError(t, err)

	ckpt := filepath.Join(t.TempDir(), "regression.ckpt")
	res, err := m.Run(context.Background(), RunConfig{
		Iterations:     1500,
		Optimizer:      train.NewAdam(0.05, 0.9, 0.999, 1e-8),
		Seed:           1,
		RunName:        "regression",
		CheckpointPath: ckpt,
	})
	require.NoError(t, err)
	assert.Equal(t, 1500, res.Iterations)

	wMode, ok := m.Mode(w)
	require.True(t, ok)
	bMode, ok := m.Mode(b)
	require.True(t, ok)

	// The noise scale of 0.1 makes the likelihood dominate the unit
	// priors, so the mode sits next to the generating parameters.
	wHat := res.Variables[wMode.Op.Name()].Value().([]float64)
	bHat := res.Variables[bMode.Op.Name()].Value().(float64)
	assert.InDelta(t, 2.0, wHat[0], 0.02)
	assert.InDelta(t, -1.0, wHat[1], 0.02)
	assert.InDelta(t, 0.5, bHat, 0.02)

	restored, err := train.Restore(ckpt)
	require.NoError(t, err)
	require.Len(t, restored, len(res.Variables))
	for name, want := range res.Variables {
		assert.Equal(t, want.Value(), restored[name].Value(), name)
	}
}

func TestMAPValidation(t *testing.T) {
	s := op.NewScope()
	_, err := NewMAP(s, nil, nil)
	assert.ErrorContains(t, err, "no latent")

	_, err = NewMAP(s, []*rv.RandomVariable{new(rv.RandomVariable)}, nil)
	assert.ErrorContains(t, err, "no distribution")
}

func TestMAPModeUnknownLatent(t *testing.T) {
	s := op.NewScope()
	z := rv.Normal(s.SubScope("z"), constOf(s, "loc", 0.0), constOf(s, "scale", 1.0))
	other := rv.Normal(s.SubScope("other"), constOf(s, "oloc", 0.0), constOf(s, "oscale", 1.0))

	m, err := NewMAP(s.SubScope("inference"), []*rv.RandomVariable{z}, nil)
	require.NoError(t, err)
	if _, ok := m.Mode(other); ok {
		t.Error("Mode returned a variable for a latent outside the inference")
	}
}
