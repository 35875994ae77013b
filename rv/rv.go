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

// Package rv provides random variables for probabilistic models: a
// distribution whose parameters are graph outputs, tied to a sample node in
// the same graph.
//
// Constructing a random variable immediately adds its sampling subgraph
// under the given scope, so a model reads as a sequence of declarations:
//
//	w := rv.Normal(s.SubScope("w"), zeros, ones)
//	y := rv.Normal(s.SubScope("y"), op.Dot(s, x, w.Value()), noise)
//
// and the node names show up in the graph view under those scopes.
package rv

import (
	"math"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/op"
)

// Distribution is a probability distribution parameterized by graph outputs.
type Distribution interface {
	// Params returns the parameter outputs in a fixed, family-specific
	// order.
	Params() []ed.Output
	// WithParams returns the same family with its parameters replaced,
	// given in Params order.
	WithParams(params []ed.Output) Distribution
	// Sample adds operations drawing one sample. Reparameterized
	// families build the sample from the parameters, so gradients flow
	// back to them.
	Sample(s *op.Scope) ed.Output
	// LogProb adds operations computing the log density of x, summed
	// over every element to a scalar.
	LogProb(s *op.Scope, x ed.Output) ed.Output
}

// RandomVariable ties a distribution to the output holding its sample.
type RandomVariable struct {
	dist  Distribution
	value ed.Output
}

// New builds a random variable from d, adding its sample subgraph under s.
func New(s *op.Scope, d Distribution) *RandomVariable {
	return &RandomVariable{dist: d, value: d.Sample(s)}
}

// Dist returns the variable's distribution.
func (r *RandomVariable) Dist() Distribution { return r.dist }

// Value returns the output holding the variable's sample.
func (r *RandomVariable) Value() ed.Output { return r.value }

// Shape returns the shape of the variable's sample.
func (r *RandomVariable) Shape() ed.Shape { return r.value.Shape() }

type normal struct {
	loc   ed.Output
	scale ed.Output
}

// Normal adds a normal random variable with the given location and scale.
//
// The sample is reparameterized as loc + scale·ε with ε standard normal, so
// gradients reach both parameters through the sample. Scale must be
// positive; pass a trainable scale through Softplus to keep it so.
func Normal(s *op.Scope, loc, scale ed.Output) *RandomVariable {
	return New(s, normal{loc: loc, scale: scale})
}

func (d normal) Params() []ed.Output { return []ed.Output{d.loc, d.scale} }

func (d normal) WithParams(params []ed.Output) Distribution {
	return normal{loc: params[0], scale: params[1]}
}

func (d normal) Sample(s *op.Scope) ed.Output {
	if s.Err() != nil {
		return ed.Output{}
	}
	shape, err := ed.BroadcastShape(d.loc.Shape(), d.scale.Shape())
	if err != nil {
		s.UpdateErr("Normal", err)
		return ed.Output{}
	}
	eps := op.RandomStandardNormal(s, shape)
	return op.Add(s, d.loc, op.Mul(s, d.scale, eps))
}

// LogProb computes Σ −(log σ + ½(log 2π + z²)) with z = (x − loc)/scale.
// Nodes live under a log_prob subscope so repeated calls on one scope keep
// distinct names.
func (d normal) LogProb(s *op.Scope, x ed.Output) ed.Output {
	if s.Err() != nil {
		return ed.Output{}
	}
	lp := s.SubScope("log_prob")
	z := op.Div(lp, op.Sub(lp, x, d.loc), d.scale)
	inner := op.Add(lp, op.Const(lp, math.Log(2*math.Pi)), op.Square(lp, z))
	half := op.Mul(lp, op.Const(lp.SubScope("half"), 0.5), inner)
	elem := op.Neg(lp, op.Add(lp.SubScope("scaled"), op.Log(lp, d.scale), half))
	return op.Sum(lp, elem)
}

type bernoulli struct {
	logits ed.Output
}

// Bernoulli adds a Bernoulli random variable parameterized by logits.
//
// The sample is a plain draw through a comparison, so no gradient flows
// from it to the logits; Bernoulli variables serve as observed data under
// reparameterized inference, not as latents.
func Bernoulli(s *op.Scope, logits ed.Output) *RandomVariable {
	return New(s, bernoulli{logits: logits})
}

func (d bernoulli) Params() []ed.Output { return []ed.Output{d.logits} }

func (d bernoulli) WithParams(params []ed.Output) Distribution {
	return bernoulli{logits: params[0]}
}

func (d bernoulli) Sample(s *op.Scope) ed.Output {
	if s.Err() != nil {
		return ed.Output{}
	}
	u := op.RandomUniform(s, d.logits.Shape())
	return op.Less(s, u, op.Sigmoid(s, d.logits))
}

// LogProb uses the softplus form x·logits − softplus(logits), which stays
// finite for extreme logits.
func (d bernoulli) LogProb(s *op.Scope, x ed.Output) ed.Output {
	if s.Err() != nil {
		return ed.Output{}
	}
	lp := s.SubScope("log_prob")
	elem := op.Sub(lp, op.Mul(lp, x, d.logits), op.Softplus(lp, d.logits))
	return op.Sum(lp, elem)
}

type pointMass struct {
	value ed.Output
}

// PointMass adds a degenerate random variable fixed at value: the sample is
// value itself and the log density is identically zero. It is the posterior
// family maximum a posteriori estimation uses.
func PointMass(s *op.Scope, value ed.Output) *RandomVariable {
	return New(s, pointMass{value: value})
}

func (d pointMass) Params() []ed.Output { return []ed.Output{d.value} }

func (d pointMass) WithParams(params []ed.Output) Distribution {
	return pointMass{value: params[0]}
}

func (d pointMass) Sample(s *op.Scope) ed.Output { return d.value }

func (d pointMass) LogProb(s *op.Scope, x ed.Output) ed.Output {
	if s.Err() != nil {
		return ed.Output{}
	}
	return op.Const(s.SubScope("log_prob"), 0.0)
}
