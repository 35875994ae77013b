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
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/event"
	"github.com/edward-ml/edward/op"
)

func readEvents(t *testing.T, path string) []*event.Event {
	t.Helper()
	fr, err := event.OpenFile(path)
	require.NoError(t, err)
	defer fr.Close()
	var events []*event.Event
	for {
		e, err := fr.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, e)
	}
}

func TestWriterScalars(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run1"), nil)
	require.NoError(t, err)

	for step := int64(1); step <= 3; step++ {
		require.NoError(t, w.Scalar("loss", float64(10-step), step))
	}
	require.NoError(t, w.Flush())

	events := readEvents(t, w.Path())
	require.Len(t, events, 5)
	assert.Equal(t, event.FileVersion, events[0].FileVersion)
	require.NotNil(t, events[1].SessionLog)
	assert.Equal(t, event.StatusStart, events[1].SessionLog.Status)
	for i, e := range events[2:] {
		assert.Equal(t, int64(i+1), e.Step)
		require.Len(t, e.Summary.Values, 1)
		assert.Equal(t, "loss", e.Summary.Values[0].Tag)
		assert.Equal(t, float32(10-(i+1)), *e.Summary.Values[0].SimpleValue)
	}

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Scalar("loss", 1, 4), ErrClosed)
	assert.ErrorIs(t, w.Flush(), ErrClosed)
	assert.NoError(t, w.Close())
}

func TestWriterCloseDrains(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run"), &Options{QueueSize: 1})
	require.NoError(t, err)
	const n = 50
	for step := int64(0); step < n; step++ {
		require.NoError(t, w.Scalar("loss", 0.5, step))
	}
	require.NoError(t, w.Close())

	events := readEvents(t, w.Path())
	assert.Len(t, events, n+2)
}

func TestWriterHistogram(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Histogram("weights", []float64{-1, 0, 0.5, 2, 2}, 7))
	require.NoError(t, w.Flush())

	events := readEvents(t, w.Path())
	require.Len(t, events, 3)
	e := events[2]
	assert.Equal(t, int64(7), e.Step)
	h := e.Summary.Values[0].Histo
	require.NotNil(t, h)
	assert.Equal(t, -1.0, h.Min)
	assert.Equal(t, 2.0, h.Max)
	assert.Equal(t, 5.0, h.Num)
	assert.InDelta(t, 3.5, h.Sum, 1e-12)
	assert.InDelta(t, 9.25, h.SumSquares, 1e-12)
	require.Equal(t, len(h.BucketLimit), len(h.Bucket))
	var total float64
	for _, c := range h.Bucket {
		total += c
	}
	assert.Equal(t, 5.0, total)

	assert.Error(t, w.Histogram("empty", nil, 8))
	require.NoError(t, w.Close())
}

func TestWriterImage(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "run"), nil)
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.SetGray(1, 1, color.Gray{Y: 255})
	require.NoError(t, w.Image("samples", img, 1))
	require.NoError(t, w.Flush())

	events := readEvents(t, w.Path())
	im := events[2].Summary.Values[0].Image
	require.NotNil(t, im)
	assert.Equal(t, int32(2), im.Height)
	assert.Equal(t, int32(3), im.Width)
	assert.Equal(t, int32(1), im.Colorspace)

	decoded, err := png.Decode(bytes.NewReader(im.EncodedImage))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), decoded.Bounds())

	assert.Error(t, w.Image("bad", image.NewRGBA(image.Rectangle{}), 2))
	require.NoError(t, w.Close())
}

func TestWriterGraph(t *testing.T) {
	s := op.NewScope()
	c := op.Const(s, []float64{1, 2})
	op.Neg(s, c)
	g, err := s.Finalize()
	require.NoError(t, err)

	w, err := NewWriter(filepath.Join(t.TempDir(), "run"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Graph(g))
	require.NoError(t, w.Graph(g)) // second call is a no-op
	require.NoError(t, w.Flush())

	events := readEvents(t, w.Path())
	require.Len(t, events, 3)
	require.NotEmpty(t, events[2].GraphDef)

	imported := ed.NewGraph()
	require.NoError(t, imported.Import(events[2].GraphDef, ""))
	assert.NotNil(t, imported.Operation("Const"))
	require.NoError(t, w.Close())
}

func TestWriterHparams(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)
	require.NoError(t, w.Hparams(map[string]any{"lr": 0.05, "samples": 5.0}))

	buf, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	var m struct {
		ID      string             `json:"id"`
		Hparams map[string]float64 `json:"hparams"`
	}
	require.NoError(t, json.Unmarshal(buf, &m))
	assert.Equal(t, w.RunID(), m.ID)
	assert.Equal(t, map[string]float64{"lr": 0.05, "samples": 5}, m.Hparams)
	require.NoError(t, w.Close())
}
