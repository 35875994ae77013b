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

// Package train provides host-side optimizers and checkpointing for
// variables held by a Session.
package train

import (
	"math"

	"github.com/pkg/errors"

	ed "github.com/edward-ml/edward"
)

// Optimizer applies gradient updates to a set of named values.
//
// Tensors are immutable, so Step replaces entries of vars with freshly
// built tensors rather than writing into the existing ones. An entry of
// grads whose name is missing from vars is an error; an entry of vars
// without a gradient is left unchanged.
type Optimizer interface {
	Step(vars map[string]*ed.Tensor, grads map[string]*ed.Tensor) error

	// Name identifies the optimizer in logs and run metadata.
	Name() string
}

type sgd struct {
	lr float64
}

// NewSGD returns plain stochastic gradient descent with the given learning
// rate.
func NewSGD(lr float64) Optimizer {
	return &sgd{lr: lr}
}

func (o *sgd) Name() string { return "sgd" }

func (o *sgd) Step(vars, grads map[string]*ed.Tensor) error {
	for name, g := range grads {
		v, gf, err := flatPair(vars, name, g)
		if err != nil {
			return err
		}
		vf, _ := v.Float64s()
		out := make([]float64, len(vf))
		for i := range vf {
			out[i] = vf[i] - o.lr*gf[i]
		}
		updated, err := ed.NewTensorValue(ed.Double, v.Shape(), out)
		if err != nil {
			return errors.Wrapf(err, "update %q", name)
		}
		vars[name] = updated
	}
	return nil
}

type adam struct {
	lr, beta1, beta2, eps float64

	steps int
	m, v  map[string][]float64
}

// NewAdam returns the Adam optimizer with the given learning rate, first and
// second moment decay rates, and epsilon. Moment estimates are kept per
// variable name and bias-corrected by the number of Step calls.
func NewAdam(lr, beta1, beta2, eps float64) Optimizer {
	return &adam{
		lr:    lr,
		beta1: beta1,
		beta2: beta2,
		eps:   eps,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

func (o *adam) Name() string { return "adam" }

func (o *adam) Step(vars, grads map[string]*ed.Tensor) error {
	o.steps++
	c1 := 1 - math.Pow(o.beta1, float64(o.steps))
	c2 := 1 - math.Pow(o.beta2, float64(o.steps))
	for name, g := range grads {
		v, gf, err := flatPair(vars, name, g)
		if err != nil {
			return err
		}
		vf, _ := v.Float64s()
		m, mv := o.slot(o.m, name, len(vf)), o.slot(o.v, name, len(vf))
		out := make([]float64, len(vf))
		for i := range vf {
			m[i] = o.beta1*m[i] + (1-o.beta1)*gf[i]
			mv[i] = o.beta2*mv[i] + (1-o.beta2)*gf[i]*gf[i]
			mhat := m[i] / c1
			vhat := mv[i] / c2
			out[i] = vf[i] - o.lr*mhat/(math.Sqrt(vhat)+o.eps)
		}
		updated, err := ed.NewTensorValue(ed.Double, v.Shape(), out)
		if err != nil {
			return errors.Wrapf(err, "update %q", name)
		}
		vars[name] = updated
	}
	return nil
}

func (o *adam) slot(slots map[string][]float64, name string, n int) []float64 {
	if s := slots[name]; len(s) == n {
		return s
	}
	s := make([]float64, n)
	slots[name] = s
	return s
}

// flatPair resolves the variable behind a gradient and checks that the two
// tensors agree on shape and element type.
func flatPair(vars map[string]*ed.Tensor, name string, g *ed.Tensor) (*ed.Tensor, []float64, error) {
	v, ok := vars[name]
	if !ok {
		return nil, nil, errors.Errorf("gradient for unknown variable %q", name)
	}
	if !v.Shape().Equal(g.Shape()) {
		return nil, nil, errors.Errorf("variable %q has shape %v, gradient has shape %v", name, v.Shape(), g.Shape())
	}
	if _, err := v.Float64s(); err != nil {
		return nil, nil, errors.Wrapf(err, "variable %q", name)
	}
	gf, err := g.Float64s()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "gradient for %q", name)
	}
	return v, gf, nil
}
