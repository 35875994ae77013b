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

package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edward-ml/edward/event"
)

func scalarEvent(tag string, step int64, wall float64, value float32) *event.Event {
	return &event.Event{
		WallTime: wall,
		Step:     step,
		Summary:  &event.Summary{Values: []*event.Value{{Tag: tag, SimpleValue: &value}}},
	}
}

func histoEvent(tag string, step int64) *event.Event {
	return &event.Event{
		WallTime: float64(1000 + step),
		Step:     step,
		Summary: &event.Summary{Values: []*event.Value{{
			Tag: tag,
			Histo: &event.Histogram{
				Min: 0, Max: 1, Num: 2, Sum: 1, SumSquares: 1,
				BucketLimit: []float64{0.5, 1},
				Bucket:      []float64{1, 1},
			},
		}}},
	}
}

func writeEvents(t *testing.T, dir string, events ...*event.Event) string {
	t.Helper()
	fw, err := event.NewFileWriter(dir)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, fw.WriteEvent(e))
	}
	require.NoError(t, fw.Close())
	return fw.Path()
}

func deltaKinds(deltas []Delta) map[string]Delta {
	m := make(map[string]Delta)
	for _, d := range deltas {
		m[d.Kind+"/"+d.Tag] = d
	}
	return m
}

func TestAccumulatorScalars(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir,
		scalarEvent("loss", 1, 100, 3.0),
		scalarEvent("loss", 2, 101, 2.0),
		scalarEvent("loss", 3, 102, 1.0),
	)

	acc := NewAccumulator("run", dir, 10)
	deltas, err := acc.Load()
	require.NoError(t, err)

	d, ok := deltaKinds(deltas)["scalar/loss"]
	require.True(t, ok)
	assert.Equal(t, int64(3), d.Step)
	assert.Equal(t, "run", d.Run)

	assert.Equal(t, []string{"loss"}, acc.ScalarTags())
	points, ok := acc.Scalars("loss")
	require.True(t, ok)
	require.Len(t, points, 3)
	assert.Equal(t, int64(1), points[0].Step)
	assert.Equal(t, 3.0, points[0].Value)
	assert.Equal(t, int64(3), points[2].Step)
	assert.Equal(t, 1.0, points[2].Value)

	first, last := acc.Times()
	assert.LessOrEqual(t, first, 100.0)
	assert.GreaterOrEqual(t, last, 102.0)

	_, ok = acc.Scalars("missing")
	assert.False(t, ok)
}

func TestAccumulatorIncrementalTail(t *testing.T) {
	dir := t.TempDir()
	fw, err := event.NewFileWriter(dir)
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, fw.WriteEvent(scalarEvent("loss", 1, 100, 1)))
	require.NoError(t, fw.WriteEvent(scalarEvent("loss", 2, 101, 2)))
	require.NoError(t, fw.Flush())

	acc := NewAccumulator("run", dir, 10)
	_, err = acc.Load()
	require.NoError(t, err)
	points, _ := acc.Scalars("loss")
	require.Len(t, points, 2)

	require.NoError(t, fw.WriteEvent(scalarEvent("loss", 3, 102, 3)))
	require.NoError(t, fw.Flush())

	deltas, err := acc.Load()
	require.NoError(t, err)
	points, _ = acc.Scalars("loss")
	require.Len(t, points, 3)

	// The second pass only reports what the tail added.
	d, ok := deltaKinds(deltas)["scalar/loss"]
	require.True(t, ok)
	assert.Equal(t, int64(3), d.Step)
}

func TestAccumulatorPurgeOnRestart(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir,
		scalarEvent("loss", 1, 100, 10),
		scalarEvent("loss", 2, 101, 20),
		scalarEvent("loss", 3, 102, 30),
		scalarEvent("loss", 4, 103, 40),
		scalarEvent("loss", 5, 104, 50),
		scalarEvent("loss", 3, 105, 99),
	)

	acc := NewAccumulator("run", dir, 10)
	_, err := acc.Load()
	require.NoError(t, err)

	points, ok := acc.Scalars("loss")
	require.True(t, ok)
	require.Len(t, points, 3)
	assert.Equal(t, int64(1), points[0].Step)
	assert.Equal(t, int64(2), points[1].Step)
	assert.Equal(t, int64(3), points[2].Step)
	assert.Equal(t, 99.0, points[2].Value)
}

func TestAccumulatorHistogramRetention(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir,
		histoEvent("weights", 1),
		histoEvent("weights", 2),
		histoEvent("weights", 3),
		histoEvent("weights", 4),
		histoEvent("weights", 5),
		histoEvent("weights", 6),
	)

	acc := NewAccumulator("run", dir, 4)
	_, err := acc.Load()
	require.NoError(t, err)

	points, ok := acc.Histograms("weights")
	require.True(t, ok)
	var steps []int64
	for _, p := range points {
		steps = append(steps, p.Step)
	}
	assert.Equal(t, []int64{1, 3, 5, 6}, steps)
	assert.Equal(t, []string{"weights"}, acc.HistogramTags())
}

func TestAccumulatorManifest(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir, scalarEvent("loss", 1, 100, 1))
	manifest := `{"id": "abc-123", "start_time": "2025-08-25T10:00:00Z", "hparams": {"lr": 0.01, "run": "fit"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))

	acc := NewAccumulator("run", dir, 10)
	deltas, err := acc.Load()
	require.NoError(t, err)

	_, ok := deltaKinds(deltas)["hparams/"]
	assert.True(t, ok)

	m, ok := acc.Manifest()
	require.True(t, ok)
	assert.Equal(t, "abc-123", m.ID)
	assert.Equal(t, "0.01", m.Hparams["lr"])
	assert.Equal(t, "fit", m.Hparams["run"])

	// An unchanged manifest produces no further deltas.
	deltas, err = acc.Load()
	require.NoError(t, err)
	_, ok = deltaKinds(deltas)["hparams/"]
	assert.False(t, ok)
}

func TestAccumulatorGraphAndCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeEvents(t, dir,
		&event.Event{WallTime: 100, GraphDef: []byte{0x0a, 0x00}},
		&event.Event{
			WallTime:   101,
			Step:       7,
			SessionLog: &event.SessionLog{Status: event.StatusCheckpoint, CheckpointPath: "ckpt/model.edw"},
		},
	)

	acc := NewAccumulator("run", dir, 10)
	deltas, err := acc.Load()
	require.NoError(t, err)

	def, ok := acc.GraphDef()
	require.True(t, ok)
	assert.NotEmpty(t, def)
	_, ok = deltaKinds(deltas)["graph/"]
	assert.True(t, ok)
	assert.Equal(t, "ckpt/model.edw", acc.LastCheckpoint())
}

func TestAccumulatorToleratesTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := writeEvents(t, dir,
		scalarEvent("loss", 1, 100, 1),
		scalarEvent("loss", 2, 101, 2),
		scalarEvent("loss", 3, 102, 3),
	)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	acc := NewAccumulator("run", dir, 10)
	_, err = acc.Load()
	require.NoError(t, err)

	points, ok := acc.Scalars("loss")
	require.True(t, ok)
	assert.Len(t, points, 2)

	// Reloading the still-truncated file neither errors nor duplicates.
	_, err = acc.Load()
	require.NoError(t, err)
	points, _ = acc.Scalars("loss")
	assert.Len(t, points, 2)
}
