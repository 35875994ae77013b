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

package edward

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Session drives a Graph computation.
//
// When a Session is created with a given target, a new Session object is
// created with that target. The target identifies the set of devices the
// session evaluates on; this implementation always evaluates on the host.
//
// A Session owns the state of the graph's variables. Multiple Sessions over
// one Graph hold independent variable values.
type Session struct {
	graph *Graph
	seed  int64

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	varMu sync.Mutex
	vars  map[*Operation]*Tensor
	rngs  map[*Operation]*rand.Rand
}

// SessionOptions contains configuration information for a session.
type SessionOptions struct {
	// Seed fixes the stream of values produced by the graph's random
	// operations, making runs reproducible. Zero selects a time-based
	// seed.
	Seed int64
}

// NewSession creates a new execution session with the associated graph.
// options may be nil to use the default options.
func NewSession(graph *Graph, options *SessionOptions) (*Session, error) {
	if graph == nil {
		return nil, fmt.Errorf("a Session requires a non-nil Graph")
	}
	seed := int64(0)
	if options != nil {
		seed = options.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Session{
		graph: graph,
		seed:  seed,
		vars:  make(map[*Operation]*Tensor),
		rngs:  make(map[*Operation]*rand.Rand),
	}, nil
}

// Run the graph with the associated session starting with the supplied feeds
// to compute the value of the requested fetches. Runs, but does not return
// Tensors for operations specified in targets.
//
// On success, returns the fetched Tensors in the same order as supplied in
// the fetches argument. If fetches is set to nil, the returned Tensor fetches
// is empty.
//
// Feeds may name any output in the graph, not only placeholders; a fed
// output short-circuits its computation for the duration of the call.
func (s *Session) Run(feeds map[Output]*Tensor, fetches []Output, targets []*Operation) ([]*Tensor, error) {
	return s.run(context.Background(), feeds, fetches, targets)
}

// RunWithContext is Run under a context. Cancellation aborts the
// computation between node evaluations, returning the context's error.
func (s *Session) RunWithContext(ctx context.Context, feeds map[Output]*Tensor, fetches []Output, targets []*Operation) ([]*Tensor, error) {
	return s.run(ctx, feeds, fetches, targets)
}

func (s *Session) run(ctx context.Context, feeds map[Output]*Tensor, fetches []Output, targets []*Operation) ([]*Tensor, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	for o, t := range feeds {
		if o.Op == nil || o.Op.g != s.graph {
			return nil, fmt.Errorf("fed output is not part of the session's graph")
		}
		if t == nil {
			return nil, fmt.Errorf("feed for %q is nil", o.Op.Name())
		}
		if t.DataType() != o.DataType() {
			return nil, fmt.Errorf("feed for %q has type %v, want %v", o.Op.Name(), t.DataType(), o.DataType())
		}
		if !t.Shape().Equal(o.Shape()) {
			return nil, fmt.Errorf("feed for %q has shape %v, want %v", o.Op.Name(), t.Shape(), o.Shape())
		}
	}
	for _, o := range fetches {
		if o.Op == nil || o.Op.g != s.graph {
			return nil, fmt.Errorf("fetched output is not part of the session's graph")
		}
	}
	for _, op := range targets {
		if op == nil || op.g != s.graph {
			return nil, fmt.Errorf("target operation is not part of the session's graph")
		}
	}

	ev := &evaluator{
		ctx:   ctx,
		sess:  s,
		feeds: feeds,
		memo:  make(map[*Operation]*Tensor),
	}
	for _, op := range targets {
		if _, err := ev.eval(op); err != nil {
			return nil, err
		}
	}
	result := make([]*Tensor, len(fetches))
	for i, o := range fetches {
		t, err := ev.eval(o.Op)
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// Close a session. This contacts any other processes associated with this
// session, if applicable. Blocks until all previous calls to Run have
// returned.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wg.Wait()
	s.closed = true
	return nil
}

// Graph returns the graph the session executes.
func (s *Session) Graph() *Graph { return s.graph }

// Variables returns the outputs of every variable in the graph, in creation
// order. Useful for checkpointing a model's full state.
func (s *Session) Variables() []Output {
	var vars []Output
	for _, op := range s.graph.snapshot() {
		if op.Type() == "VariableV2" {
			vars = append(vars, op.Output(0))
		}
	}
	return vars
}

// VariableValue returns the current value of a variable, initializing it
// from its initial value on first access.
func (s *Session) VariableValue(v Output) (*Tensor, error) {
	if v.Op == nil || v.Op.g != s.graph {
		return nil, fmt.Errorf("output is not part of the session's graph")
	}
	if v.Op.Type() != "VariableV2" {
		return nil, fmt.Errorf("operation %q is a %s, not a variable", v.Op.Name(), v.Op.Type())
	}
	return s.variableValue(v.Op)
}

// SetVariable replaces the current value of a variable. The new value must
// match the variable's type and shape.
func (s *Session) SetVariable(v Output, t *Tensor) error {
	if v.Op == nil || v.Op.g != s.graph {
		return fmt.Errorf("output is not part of the session's graph")
	}
	if v.Op.Type() != "VariableV2" {
		return fmt.Errorf("operation %q is a %s, not a variable", v.Op.Name(), v.Op.Type())
	}
	return s.setVariable(v.Op, t)
}

func (s *Session) variableValue(op *Operation) (*Tensor, error) {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	if t, ok := s.vars[op]; ok {
		return t, nil
	}
	init, err := attrTensor(op, "init")
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", op.Name(), err)
	}
	s.vars[op] = init
	return init, nil
}

func (s *Session) setVariable(op *Operation, t *Tensor) error {
	if t == nil {
		return fmt.Errorf("variable %q: nil value", op.Name())
	}
	if t.DataType() != op.outDT {
		return fmt.Errorf("variable %q holds %v, cannot assign %v", op.Name(), op.outDT, t.DataType())
	}
	if !t.Shape().Equal(op.outShape) {
		return fmt.Errorf("variable %q has shape %v, cannot assign %v", op.Name(), op.outShape, t.Shape())
	}
	s.varMu.Lock()
	defer s.varMu.Unlock()
	s.vars[op] = t
	return nil
}

// rngFor returns the persistent random stream of one operation. Streams are
// derived from the session seed and the operation name, so distinct random
// operations draw independent values and reruns with the same seed repeat.
func (s *Session) rngFor(op *Operation) *rand.Rand {
	s.varMu.Lock()
	defer s.varMu.Unlock()
	if r, ok := s.rngs[op]; ok {
		return r
	}
	r := rand.New(rand.NewSource(s.seed ^ int64(xxhash.Sum64String(op.Name()))))
	s.rngs[op] = r
	return r
}

// evaluator computes tensor values for one Run call, memoizing each
// operation so shared subexpressions evaluate once.
type evaluator struct {
	ctx   context.Context
	sess  *Session
	feeds map[Output]*Tensor
	memo  map[*Operation]*Tensor
}

func (ev *evaluator) rng(op *Operation) *rand.Rand { return ev.sess.rngFor(op) }

func (ev *evaluator) eval(op *Operation) (*Tensor, error) {
	if err := ev.ctx.Err(); err != nil {
		return nil, err
	}
	if t, ok := ev.memo[op]; ok {
		return t, nil
	}
	if t, ok := ev.feeds[op.Output(0)]; ok {
		ev.memo[op] = t
		return t, nil
	}
	for _, c := range op.control {
		if _, err := ev.eval(c); err != nil {
			return nil, err
		}
	}
	in := make([]*Tensor, len(op.inputs))
	for i, o := range op.inputs {
		t, err := ev.eval(o.Op)
		if err != nil {
			return nil, err
		}
		in[i] = t
	}
	def := ops[op.Type()]
	if def == nil || def.kernel == nil {
		return nil, fmt.Errorf("no kernel registered for operation type %s", op.Type())
	}
	t, err := def.kernel(ev, op, in)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op.Type(), op.Name(), err)
	}
	// Variable reads are never memoized: an Assign sequenced earlier in the
	// same run (via a control dependency) must be visible to later reads.
	if op.Type() != "VariableV2" {
		ev.memo[op] = t
	}
	return t, nil
}
