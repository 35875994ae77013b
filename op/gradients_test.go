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
	"strings"
	"testing"

	ed "github.com/edward-ml/edward"
)

func TestGradients(t *testing.T) {
	var (
		s  = NewScope()
		x  = Placeholder(s.SubScope("x"), ed.Double, ed.ScalarShape())
		y0 = Square(s.SubScope("y0"), x)
		y1 = Square(s.SubScope("y1"), y0)
	)
	grads := Gradients(s, []ed.Output{y1}, []ed.Output{x})
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if len(grads) != 1 {
		t.Fatal(len(grads))
	}
	if !strings.HasPrefix(grads[0].Op.Name(), "Gradients/") {
		t.Fatalf("Got name %q, wanted started with Gradients/", grads[0].Op.Name())
	}

	graph, err := s.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	sess, err := ed.NewSession(graph, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := sess.Run(
		map[ed.Output]*ed.Tensor{x: ed.Scalar(3)},
		[]ed.Output{grads[0]},
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out[0].Value().(float64), 108.0; got != want {
		t.Errorf("Got %v, want %v", got, want)
	}
}

func TestGradientsInDistinctScopes(t *testing.T) {
	var (
		s  = NewScope()
		x  = Placeholder(s.SubScope("x"), ed.Double, ed.ScalarShape())
		y0 = Square(s.SubScope("y0"), x)
	)
	// Repeated gradient computations need distinct sub-scopes.
	first := Gradients(s.SubScope("a"), []ed.Output{y0}, []ed.Output{x})
	second := Gradients(s.SubScope("b"), []ed.Output{y0}, []ed.Output{x})
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(first[0].Op.Name(), "a/Gradients/") {
		t.Errorf("Got name %q, wanted started with a/Gradients/", first[0].Op.Name())
	}
	if !strings.HasPrefix(second[0].Op.Name(), "b/Gradients/") {
		t.Errorf("Got name %q, wanted started with b/Gradients/", second[0].Op.Name())
	}

	// Reusing a scope whose Gradients namespace is taken must fail.
	Gradients(s, []ed.Output{y0}, []ed.Output{x})
	Gradients(s, []ed.Output{y0}, []ed.Output{x})
	if s.Err() == nil {
		t.Error("Expected error when reusing the Gradients namespace")
	}
}

func TestGradientsWithControlDependenciesFails(t *testing.T) {
	var (
		s  = NewScope()
		x  = Placeholder(s.SubScope("x"), ed.Double, ed.ScalarShape())
		y0 = Square(s.SubScope("y0"), x)
	)
	s = s.WithControlDependencies(y0.Op)
	Gradients(s, []ed.Output{y0}, []ed.Output{x})
	if s.Err() == nil {
		t.Error("Expected Gradients to fail under control dependencies")
	}
}
