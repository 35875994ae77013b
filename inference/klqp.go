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

// Package inference fits posterior approximations to probabilistic models
// built from random variables.
//
// KLQP minimizes the KL divergence from a variational family to the
// posterior by stochastic gradient descent on the negative ELBO, using the
// reparameterization trick. MAP is the same machinery with point-mass
// posteriors, which reduces the loss to the negative log joint.
package inference

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/internal/logging"
	"github.com/edward-ml/edward/op"
	"github.com/edward-ml/edward/rv"
	"github.com/edward-ml/edward/summary"
	"github.com/edward-ml/edward/train"
)

type config struct {
	samples int
	vars    []ed.Output
}

// Option configures loss construction.
type Option func(*config)

// WithSamples sets the number of posterior samples drawn for each gradient
// estimate. The default is one sample.
func WithSamples(n int) Option {
	return func(c *config) { c.samples = n }
}

// WithVariables restricts training to the given variables. The default is
// every variable present in the graph when the loss is built.
func WithVariables(vars ...ed.Output) Option {
	return func(c *config) { c.vars = vars }
}

// KLQP holds the loss and gradient nodes for variational inference over a
// fixed set of latent variables and observations.
type KLQP struct {
	graph *ed.Graph
	loss  ed.Output
	grads []ed.Output
	vars  []ed.Output
}

// New builds the negative-ELBO loss under s. latents maps each model latent
// to its variational posterior; both sides must carry a distribution and
// agree on event shape. data maps observed random variables to their
// observed values.
//
// The model's own nodes are left untouched: the likelihood is evaluated on
// copies of the model subgraph with latent samples swapped for posterior
// samples.
func New(s *op.Scope, latents map[*rv.RandomVariable]*rv.RandomVariable, data map[*rv.RandomVariable]*ed.Tensor, opts ...Option) (*KLQP, error) {
	cfg := config{samples: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.samples < 1 {
		return nil, errors.Errorf("inference: %d samples, want at least 1", cfg.samples)
	}
	if len(latents) == 0 {
		return nil, errors.New("inference: no latent variables")
	}
	for z, qz := range latents {
		if z == nil || z.Dist() == nil {
			return nil, errors.New("inference: latent variable has no distribution")
		}
		if qz == nil || qz.Dist() == nil {
			return nil, errors.Errorf("inference: latent %q has no posterior distribution", z.Value().Op.Name())
		}
		if !z.Shape().Equal(qz.Shape()) {
			return nil, errors.Errorf("inference: latent %q has shape %v, posterior has shape %v",
				z.Value().Op.Name(), z.Shape(), qz.Shape())
		}
	}
	for x, t := range data {
		if x == nil || x.Dist() == nil {
			return nil, errors.New("inference: observed variable has no distribution")
		}
		if t == nil {
			return nil, errors.Errorf("inference: observed value for %q is nil", x.Value().Op.Name())
		}
	}

	zs := sortedKeys(latents)
	xs := make([]*rv.RandomVariable, 0, len(data))
	for x := range data {
		xs = append(xs, x)
	}
	sortVars(xs)

	g := s.Graph()
	observed := make(map[*rv.RandomVariable]ed.Output, len(xs))
	obsScope := s.SubScope("observations")
	for _, x := range xs {
		obs := op.Const(obsScope.SubScope("x"), data[x])
		if err := s.Err(); err != nil {
			return nil, err
		}
		if !obs.Shape().Equal(x.Shape()) {
			return nil, errors.Errorf("inference: observed value for %q has shape %v, variable has shape %v",
				x.Value().Op.Name(), obs.Shape(), x.Shape())
		}
		observed[x] = obs
	}

	base := copyPrefix(g)
	replicas := make([]ed.Output, 0, cfg.samples)
	for r := 0; r < cfg.samples; r++ {
		rs := s.SubScope("sample")

		// Draw one posterior sample per latent and record the swap from
		// the model's own sample node to it. Observed variables swap to
		// their observed values.
		samples := make(map[*rv.RandomVariable]ed.Output, len(zs))
		swaps := make(map[ed.Output]ed.Output, len(zs)+len(xs))
		for _, z := range zs {
			zr := latents[z].Dist().Sample(rs.SubScope("z"))
			samples[z] = zr
			swaps[z.Value()] = zr
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		for _, x := range xs {
			swaps[x.Value()] = observed[x]
		}
		cp := newCopier(g, fmt.Sprintf("%s/sample_%d", base, r), swaps)

		var pTerms, qTerms []ed.Output
		for _, z := range zs {
			prior, err := swapDist(cp, z.Dist())
			if err != nil {
				return nil, err
			}
			pTerms = append(pTerms, prior.LogProb(rs, samples[z]))
			qTerms = append(qTerms, latents[z].Dist().LogProb(rs, samples[z]))
		}
		for _, x := range xs {
			lik, err := swapDist(cp, x.Dist())
			if err != nil {
				return nil, err
			}
			pTerms = append(pTerms, lik.LogProb(rs, observed[x]))
		}
		elbo := op.Sub(rs, accumulate(rs.SubScope("logp"), pTerms), accumulate(rs.SubScope("logq"), qTerms))
		replicas = append(replicas, elbo)
	}

	mean := op.Div(s.SubScope("elbo"),
		accumulate(s.SubScope("elbo_sum"), replicas),
		op.Const(s.SubScope("num_samples"), float64(cfg.samples)))
	loss := op.Neg(s.SubScope("loss"), mean)

	vars := cfg.vars
	if vars == nil {
		vars = graphVariables(g)
	}
	if len(vars) == 0 {
		return nil, errors.New("inference: no trainable variables")
	}
	grads := op.Gradients(s.SubScope("grad"), []ed.Output{loss}, vars)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &KLQP{graph: g, loss: loss, grads: grads, vars: vars}, nil
}

// Loss returns the negative-ELBO node.
func (k *KLQP) Loss() ed.Output { return k.loss }

// Variables returns the outputs being trained, in creation order.
func (k *KLQP) Variables() []ed.Output {
	return append([]ed.Output(nil), k.vars...)
}

// RunConfig controls one optimization run.
type RunConfig struct {
	// Iterations is the number of optimizer steps. Zero means 1000.
	Iterations int

	// Optimizer updates the variables. Nil means Adam with a learning
	// rate of 0.01.
	Optimizer train.Optimizer

	// Seed fixes the random draws of the run's session.
	Seed int64

	// LogEvery writes a progress line every that many iterations. Zero
	// disables progress logging.
	LogEvery int

	// Summary, when set, receives the loss, the gradient global norm and
	// variable histograms every SummaryEvery iterations (every iteration
	// when SummaryEvery is zero).
	Summary      *summary.Writer
	SummaryEvery int

	// RunName labels progress lines and summary tags.
	RunName string

	// CheckpointPath, when non-empty, receives the final variable values
	// on completion.
	CheckpointPath string
}

// Result reports the state of a finished (or cancelled) run.
type Result struct {
	// FinalLoss is the loss fetched on the last completed iteration.
	FinalLoss float64

	// Iterations is the number of completed iterations.
	Iterations int

	// Variables holds the final value of every trained variable, keyed by
	// operation name.
	Variables map[string]*ed.Tensor
}

// Run optimizes the loss in a fresh session. It stops early when ctx is
// cancelled, returning the context error with a partial Result.
func (k *KLQP) Run(ctx context.Context, cfg RunConfig) (Result, error) {
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = 1000
	}
	opt := cfg.Optimizer
	if opt == nil {
		opt = train.NewAdam(0.01, 0.9, 0.999, 1e-8)
	}
	name := cfg.RunName
	if name == "" {
		name = "klqp"
	}
	summaryEvery := cfg.SummaryEvery
	if summaryEvery < 1 {
		summaryEvery = 1
	}

	sess, err := ed.NewSession(k.graph, &ed.SessionOptions{Seed: cfg.Seed})
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	fetches := append([]ed.Output{k.loss}, k.grads...)
	res := Result{}
	for i := 1; i <= iterations; i++ {
		select {
		case <-ctx.Done():
			res.Variables, _ = k.snapshot(sess)
			return res, ctx.Err()
		default:
		}

		out, err := sess.RunWithContext(ctx, nil, fetches, nil)
		if err != nil {
			if ctx.Err() != nil {
				res.Variables, _ = k.snapshot(sess)
				return res, ctx.Err()
			}
			return res, err
		}
		loss := out[0].Value().(float64)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return res, errors.Errorf("inference: loss diverged to %v at iteration %d", loss, i)
		}

		vals := make(map[string]*ed.Tensor, len(k.vars))
		grads := make(map[string]*ed.Tensor, len(k.vars))
		for j, v := range k.vars {
			val, err := sess.VariableValue(v)
			if err != nil {
				return res, err
			}
			vals[v.Op.Name()] = val
			grads[v.Op.Name()] = out[1+j]
		}
		if err := opt.Step(vals, grads); err != nil {
			return res, err
		}
		for _, v := range k.vars {
			if err := sess.SetVariable(v, vals[v.Op.Name()]); err != nil {
				return res, err
			}
		}
		res.FinalLoss, res.Iterations = loss, i

		if cfg.LogEvery > 0 && (i%cfg.LogEvery == 0 || i == iterations) {
			logging.TrainingProgress(name, i, loss, "optimizer", opt.Name())
		}
		if cfg.Summary != nil && i%summaryEvery == 0 {
			if err := k.writeSummaries(cfg.Summary, name, int64(i), loss, grads, vals); err != nil {
				return res, err
			}
		}
	}

	res.Variables, err = k.snapshot(sess)
	if err != nil {
		return res, err
	}
	if cfg.CheckpointPath != "" {
		if err := train.Save(cfg.CheckpointPath, res.Variables); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (k *KLQP) snapshot(sess *ed.Session) (map[string]*ed.Tensor, error) {
	vals := make(map[string]*ed.Tensor, len(k.vars))
	for _, v := range k.vars {
		val, err := sess.VariableValue(v)
		if err != nil {
			return nil, err
		}
		vals[v.Op.Name()] = val
	}
	return vals, nil
}

func (k *KLQP) writeSummaries(w *summary.Writer, name string, step int64, loss float64, grads, vals map[string]*ed.Tensor) error {
	if err := w.Scalar(name+"/loss", loss, step); err != nil {
		return err
	}
	var sq float64
	for _, g := range grads {
		flat, err := g.Float64s()
		if err != nil {
			return err
		}
		for _, v := range flat {
			sq += v * v
		}
	}
	if err := w.Scalar(name+"/grad_norm", math.Sqrt(sq), step); err != nil {
		return err
	}
	for _, v := range k.vars {
		opName := v.Op.Name()
		flat, err := vals[opName].Float64s()
		if err != nil {
			return err
		}
		if err := w.Histogram(name+"/"+opName, flat, step); err != nil {
			return err
		}
	}
	return nil
}

// swapDist rewrites a distribution's parameters through the copier. The
// original distribution is untouched; a new one is returned when any
// parameter changed.
func swapDist(cp *copier, d rv.Distribution) (rv.Distribution, error) {
	params := d.Params()
	swapped := make([]ed.Output, len(params))
	changed := false
	for i, p := range params {
		sp, err := cp.output(p)
		if err != nil {
			return nil, err
		}
		swapped[i] = sp
		if sp != p {
			changed = true
		}
	}
	if !changed {
		return d, nil
	}
	return d.WithParams(swapped), nil
}

// accumulate sums terms with a chain of adds under s.
func accumulate(s *op.Scope, terms []ed.Output) ed.Output {
	total := terms[0]
	for _, t := range terms[1:] {
		total = op.Add(s.SubScope("acc"), total, t)
	}
	return total
}

// graphVariables returns every variable in g in creation order, with
// operation handles resolved through the graph so identities are stable.
func graphVariables(g *ed.Graph) []ed.Output {
	var vars []ed.Output
	for _, o := range g.Operations() {
		if o.Type() == "VariableV2" {
			vars = append(vars, g.Operation(o.Name()).Output(0))
		}
	}
	return vars
}

func sortedKeys(m map[*rv.RandomVariable]*rv.RandomVariable) []*rv.RandomVariable {
	keys := make([]*rv.RandomVariable, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortVars(keys)
	return keys
}

func sortVars(vars []*rv.RandomVariable) {
	sort.Slice(vars, func(i, j int) bool {
		return vars[i].Value().Op.Name() < vars[j].Value().Op.Name()
	})
}
