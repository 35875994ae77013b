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
	"github.com/pkg/errors"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
)

// MAP fits point estimates of latent variables by maximizing the log joint.
type MAP struct {
	*KLQP
	modes map[*rv.RandomVariable]ed.Output
}

// NewMAP builds a maximum a posteriori loss under s. Each latent gets a
// point-mass posterior holding a zero-initialized trainable variable, so
// the negative ELBO reduces to the negative log joint evaluated at the
// point estimates.
func NewMAP(s *op.Scope, latents []*rv.RandomVariable, data map[*rv.RandomVariable]*ed.Tensor, opts ...Option) (*MAP, error) {
	if len(latents) == 0 {
		return nil, errors.New("inference: no latent variables")
	}
	posteriors := make(map[*rv.RandomVariable]*rv.RandomVariable, len(latents))
	modes := make(map[*rv.RandomVariable]ed.Output, len(latents))
	for _, z := range latents {
		if z == nil || z.Dist() == nil {
			return nil, errors.New("inference: latent variable has no distribution")
		}
		zs := s.SubScope("mode")
		v := op.Variable(zs, ed.Zeros(ed.Double, z.Shape()))
		posteriors[z] = rv.PointMass(zs, v)
		modes[z] = v
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	k, err := New(s, posteriors, data, opts...)
	if err != nil {
		return nil, err
	}
	return &MAP{KLQP: k, modes: modes}, nil
}

// Mode returns the variable holding z's point estimate. Its operation name
// keys the entry in Result.Variables after a run.
func (m *MAP) Mode(z *rv.RandomVariable) (ed.Output, bool) {
	v, ok := m.modes[z]
	return v, ok
}
