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

package summary

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/edward-ml/edward/event"
)

// bucketLimits is the standard exponential bucket table: powers of 1.1 from
// 1e-12 up to 1e20, mirrored for negative values, with a zero bucket in the
// middle. Dashboards expect histograms bucketed this way.
var bucketLimits = makeBucketLimits()

func makeBucketLimits() []float64 {
	var pos []float64
	for v := 1e-12; v < 1e20; v *= 1.1 {
		pos = append(pos, v)
	}
	limits := make([]float64, 0, 2*len(pos)+1)
	for i := len(pos) - 1; i >= 0; i-- {
		limits = append(limits, -pos[i])
	}
	limits = append(limits, 0)
	limits = append(limits, pos...)
	return limits
}

// makeHistogram buckets values into the standard limits and fills in the
// moment statistics. Empty bucket runs at either end are trimmed so the
// histogram stays small.
func makeHistogram(values []float64) (*event.Histogram, error) {
	if len(values) == 0 {
		return nil, errors.New("summary: histogram of no values")
	}
	h := &event.Histogram{Min: values[0], Max: values[0]}
	counts := make([]float64, len(bucketLimits))
	for _, v := range values {
		if v < h.Min {
			h.Min = v
		}
		if v > h.Max {
			h.Max = v
		}
		h.Num++
		h.Sum += v
		h.SumSquares += v * v
		i := sort.SearchFloat64s(bucketLimits, v)
		if i == len(bucketLimits) {
			i--
		}
		counts[i]++
	}

	first, last := 0, len(counts)-1
	for counts[first] == 0 {
		first++
	}
	for counts[last] == 0 {
		last--
	}
	h.Bucket = counts[first : last+1]
	h.BucketLimit = bucketLimits[first : last+1]
	return h, nil
}
