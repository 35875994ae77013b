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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/op"
)

func constOf(s *op.Scope, name string, value interface{}) ed.Output {
	return op.Const(s.SubScope(name), value)
}

func tensorOf(t *testing.T, value interface{}) *ed.Tensor {
	t.Helper()
	tensor, err := ed.NewTensor(value)
	require.NoError(t, err)
	return tensor
}

func evaluate(t *testing.T, g *ed.Graph, seed int64, fetches ...ed.Output) []*ed.Tensor {
	t.Helper()
	sess, err := ed.NewSession(g, &ed.SessionOptions{Seed: seed})
	require.NoError(t, err)
	defer sess.Close()
	out, err := sess.Run(nil, fetches, nil)
	require.NoError(t, err)
	return out
}

func TestCopierRewrites(t *testing.T) {
	s := op.NewScope()
	x := constOf(s, "x", 3.0)
	a := constOf(s, "a", 2.0)
	y := op.Mul(s, a, x)
	x2 := constOf(s, "x2", 5.0)
	require.NoError(t, s.Err())

	g := s.Graph()
	before := g.NumOperations()
	cp := newCopier(g, copyPrefix(g), map[ed.Output]ed.Output{x: x2})
	cy, err := cp.output(y)
	require.NoError(t, err)

	// Only the multiply depends on the swapped output, so only it is cloned.
	assert.Equal(t, before+1, g.NumOperations())
	assert.Equal(t, "Mul", cy.Op.Type())
	assert.True(t, strings.HasPrefix(cy.Op.Name(), "copied/"), cy.Op.Name())
	assert.Equal(t, a, cy.Op.Input(0))
	assert.Equal(t, x2, cy.Op.Input(1))

	out := evaluate(t, g, 1, y, cy)
	assert.Equal(t, 6.0, out[0].Value().(float64))
	assert.Equal(t, 10.0, out[1].Value().(float64))
}

func TestCopierSharesUntouchedNodes(t *testing.T) {
	s := op.NewScope()
	x := constOf(s, "x", 3.0)
	a := constOf(s, "a", 2.0)
	x2 := constOf(s, "x2", 5.0)
	require.NoError(t, s.Err())

	g := s.Graph()
	before := g.NumOperations()
	cp := newCopier(g, copyPrefix(g), map[ed.Output]ed.Output{x: x2})
	ca, err := cp.output(a)
	require.NoError(t, err)
	assert.Equal(t, a, ca)
	assert.Equal(t, before, g.NumOperations())
}

func TestCopierMemoizesSharedSubgraphs(t *testing.T) {
	s := op.NewScope()
	x := constOf(s, "x", 3.0)
	m := op.Square(s, x)
	y := op.Add(s, m, m)
	x2 := constOf(s, "x2", 4.0)
	require.NoError(t, s.Err())

	g := s.Graph()
	before := g.NumOperations()
	cp := newCopier(g, copyPrefix(g), map[ed.Output]ed.Output{x: x2})
	cy, err := cp.output(y)
	require.NoError(t, err)

	// The square feeds the add twice but is cloned once.
	assert.Equal(t, before+2, g.NumOperations())
	assert.Equal(t, cy.Op.Input(0), cy.Op.Input(1))

	out := evaluate(t, g, 1, y, cy)
	assert.Equal(t, 18.0, out[0].Value().(float64))
	assert.Equal(t, 32.0, out[1].Value().(float64))
}

func TestCopierSwapsRoot(t *testing.T) {
	s := op.NewScope()
	x := constOf(s, "x", 3.0)
	x2 := constOf(s, "x2", 5.0)
	require.NoError(t, s.Err())

	cp := newCopier(s.Graph(), "copied", map[ed.Output]ed.Output{x: x2})
	got, err := cp.output(x)
	require.NoError(t, err)
	assert.Equal(t, x2, got)
}

func TestCopyPrefix(t *testing.T) {
	s := op.NewScope()
	x := constOf(s, "x", 1.0)
	y := op.Neg(s, x)
	x2 := constOf(s, "x2", 2.0)
	require.NoError(t, s.Err())

	g := s.Graph()
	assert.Equal(t, "copied", copyPrefix(g))

	cp := newCopier(g, copyPrefix(g), map[ed.Output]ed.Output{x: x2})
	_, err := cp.output(y)
	require.NoError(t, err)
	assert.Equal(t, "copied_1", copyPrefix(g))
}
