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

// Package data generates synthetic datasets for probabilistic models.
//
// A Dataset holds feature rows, scalar targets, and the ground truth that
// produced them, so demos and tests can compare fitted parameters against
// the values the data was drawn from. All generation is deterministic in
// the seed.
package data

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"

	ed "github.com/edward-ml/edward"
)

// Dataset is an in-memory design matrix with one scalar target per row.
type Dataset struct {
	seed     int64
	dim      int
	features [][]float64
	targets  []float64

	// TrueWeights and TrueIntercept are the parameters the targets were
	// generated from.
	TrueWeights   []float64
	TrueIntercept float64
}

// Regression returns n rows of d standard-normal features with targets
//
//	y = x·w + b + noise·ε
//
// where w, b and ε are drawn from the seeded stream. The generating w and b
// are exposed as TrueWeights and TrueIntercept.
func Regression(n, d int, noise float64, seed int64) *Dataset {
	if n < 0 || d < 1 {
		panic(fmt.Sprintf("data: invalid dataset size %dx%d", n, d))
	}
	if noise < 0 {
		panic(fmt.Sprintf("data: negative noise %v", noise))
	}
	rng := rand.New(rand.NewSource(seed))
	ds := newGroundTruth(n, d, seed, rng)
	for i := range ds.features {
		ds.targets[i] = ds.signal(ds.features[i]) + noise*rng.NormFloat64()
	}
	return ds
}

// Classification returns n rows of d standard-normal features with binary
// targets drawn from a logistic model: P(y=1 | x) = sigmoid(x·w + b).
func Classification(n, d int, seed int64) *Dataset {
	if n < 0 || d < 1 {
		panic(fmt.Sprintf("data: invalid dataset size %dx%d", n, d))
	}
	rng := rand.New(rand.NewSource(seed))
	ds := newGroundTruth(n, d, seed, rng)
	for i := range ds.features {
		p := 1 / (1 + math.Exp(-ds.signal(ds.features[i])))
		if rng.Float64() < p {
			ds.targets[i] = 1
		}
	}
	return ds
}

func newGroundTruth(n, d int, seed int64, rng *rand.Rand) *Dataset {
	ds := &Dataset{
		seed:        seed,
		dim:         d,
		features:    make([][]float64, n),
		targets:     make([]float64, n),
		TrueWeights: make([]float64, d),
	}
	for j := range ds.TrueWeights {
		ds.TrueWeights[j] = rng.NormFloat64()
	}
	ds.TrueIntercept = rng.NormFloat64()
	for i := range ds.features {
		row := make([]float64, d)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		ds.features[i] = row
	}
	return ds
}

func (ds *Dataset) signal(row []float64) float64 {
	s := ds.TrueIntercept
	for j, w := range ds.TrueWeights {
		s += w * row[j]
	}
	return s
}

// Len returns the number of rows.
func (ds *Dataset) Len() int { return len(ds.features) }

// Dim returns the number of features per row.
func (ds *Dataset) Dim() int { return ds.dim }

// X returns the features as an n×d Double tensor.
func (ds *Dataset) X() *ed.Tensor {
	return mustTensor(matrixTensor(ds.features, ds.dim))
}

// Y returns the targets as a length-n Double vector.
func (ds *Dataset) Y() *ed.Tensor {
	flat := make([]float64, len(ds.targets))
	copy(flat, ds.targets)
	return mustTensor(ed.NewTensorValue(ed.Double, ed.MakeShape(int64(len(flat))), flat))
}

// Split partitions the rows into train and test sets. Membership depends
// only on the dataset seed and the row index, so resplitting the same
// dataset, or a regenerated copy of it, yields the same partition.
func (ds *Dataset) Split(testFrac float64) (train, test *Dataset) {
	if testFrac < 0 || testFrac > 1 {
		panic(fmt.Sprintf("data: test fraction %v outside [0, 1]", testFrac))
	}
	train = ds.emptyLike()
	test = ds.emptyLike()
	for i := range ds.features {
		part := train
		if splitFraction(ds.seed, i) < testFrac {
			part = test
		}
		part.features = append(part.features, ds.features[i])
		part.targets = append(part.targets, ds.targets[i])
	}
	return train, test
}

func (ds *Dataset) emptyLike() *Dataset {
	return &Dataset{
		seed:          ds.seed,
		dim:           ds.dim,
		TrueWeights:   ds.TrueWeights,
		TrueIntercept: ds.TrueIntercept,
	}
}

// splitFraction hashes (seed, index) to a uniform value in [0, 1).
func splitFraction(seed int64, index int) float64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(seed))
	binary.LittleEndian.PutUint64(buf[8:], uint64(index))
	h := xxhash.Sum64(buf[:])
	return float64(h>>11) / (1 << 53)
}

// Batches returns a sequential iterator over row batches. The final batch
// may be short.
func (ds *Dataset) Batches(size int) *Batches {
	if size < 1 {
		panic(fmt.Sprintf("data: invalid batch size %d", size))
	}
	return &Batches{ds: ds, size: size}
}

// Batches iterates over a Dataset in row order.
type Batches struct {
	ds   *Dataset
	size int
	pos  int
}

// Next returns the next batch of features and targets. ok is false once all
// rows were read.
func (b *Batches) Next() (x, y *ed.Tensor, ok bool) {
	if b.pos >= b.ds.Len() {
		return nil, nil, false
	}
	end := b.pos + b.size
	if end > b.ds.Len() {
		end = b.ds.Len()
	}
	rows := b.ds.features[b.pos:end]
	targets := b.ds.targets[b.pos:end]
	b.pos = end

	x = mustTensor(matrixTensor(rows, b.ds.dim))
	flat := make([]float64, len(targets))
	copy(flat, targets)
	y = mustTensor(ed.NewTensorValue(ed.Double, ed.MakeShape(int64(len(flat))), flat))
	return x, y, true
}

func matrixTensor(rows [][]float64, d int) (*ed.Tensor, error) {
	flat := make([]float64, 0, len(rows)*d)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return ed.NewTensorValue(ed.Double, ed.MakeShape(int64(len(rows)), int64(d)), flat)
}

// mustTensor panics on construction errors, which cannot occur for the
// shapes this package builds.
func mustTensor(t *ed.Tensor, err error) *ed.Tensor {
	if err != nil {
		panic(err)
	}
	return t
}
