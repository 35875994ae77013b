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
	"fmt"
	"strings"

	ed "github.com/edward-ml/edward"
)

// copier duplicates the part of a graph that feeds a set of outputs,
// rewriting swapped outputs as it goes. Operations that do not depend on any
// swapped output are shared with the original graph rather than copied, so
// constants and variables stay single.
type copier struct {
	g      *ed.Graph
	prefix string
	swaps  map[ed.Output]ed.Output
	copied map[ed.Output]ed.Output
	deps   map[*ed.Operation]bool
	n      int
}

func newCopier(g *ed.Graph, prefix string, swaps map[ed.Output]ed.Output) *copier {
	return &copier{
		g:      g,
		prefix: prefix,
		swaps:  swaps,
		copied: make(map[ed.Output]ed.Output),
		deps:   make(map[*ed.Operation]bool),
	}
}

// output returns o with every swapped output replaced, cloning the
// operations between o and the swap points under the copier's prefix.
func (c *copier) output(o ed.Output) (ed.Output, error) {
	if o.Op == nil {
		return ed.Output{}, fmt.Errorf("inference: cannot copy an empty output")
	}
	if r, ok := c.swaps[o]; ok {
		return r, nil
	}
	if r, ok := c.copied[o]; ok {
		return r, nil
	}
	if !c.depends(o) {
		c.copied[o] = o
		return o, nil
	}
	src := o.Op
	inputs := make([]ed.Input, src.NumInputs())
	for i := range inputs {
		in, err := c.output(src.Input(i))
		if err != nil {
			return ed.Output{}, err
		}
		inputs[i] = in
	}
	name := fmt.Sprintf("%s/%s_%d", c.prefix, src.Type(), c.n)
	c.n++
	cloned, err := c.g.CloneOperation(src, name, inputs)
	if err != nil {
		return ed.Output{}, err
	}
	out := cloned.Output(0)
	c.copied[o] = out
	return out, nil
}

// depends reports whether o transitively reads a swapped output.
func (c *copier) depends(o ed.Output) bool {
	if _, ok := c.swaps[o]; ok {
		return true
	}
	op := o.Op
	if d, ok := c.deps[op]; ok {
		return d
	}
	d := false
	for i := 0; i < op.NumInputs(); i++ {
		if c.depends(op.Input(i)) {
			d = true
			break
		}
	}
	c.deps[op] = d
	return d
}

// copyPrefix returns a namespace no operation in g uses yet. Copied
// subgraphs live under it.
func copyPrefix(g *ed.Graph) string {
	taken := func(p string) bool {
		for _, op := range g.Operations() {
			if name := op.Name(); name == p || strings.HasPrefix(name, p+"/") {
				return true
			}
		}
		return false
	}
	if !taken("copied") {
		return "copied"
	}
	for i := 1; ; i++ {
		p := fmt.Sprintf("copied_%d", i)
		if !taken(p) {
			return p
		}
	}
}
