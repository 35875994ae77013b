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

// Package board indexes run directories full of event files and serves
// them over HTTP, with live update notifications over a websocket.
package board

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/btree"
	"github.com/tidwall/gjson"

	"github.com/edward-ml/edward/event"
	"github.com/edward-ml/edward/internal/logging"
	"github.com/edward-ml/edward/internal/tfrecord"
)

// eventFilePrefix is how event files in a run directory are recognized.
const eventFilePrefix = "events.out.tfevents."

// ScalarPoint is one step of a scalar series.
type ScalarPoint struct {
	WallTime float64
	Step     int64
	Value    float64
}

// HistogramPoint is one step of a histogram series.
type HistogramPoint struct {
	WallTime float64
	Step     int64
	Histo    *event.Histogram
}

// RunManifest is the run identity read from the manifest file a summary
// writer leaves next to its event file.
type RunManifest struct {
	ID      string
	Hparams map[string]string
}

// Delta describes one observable change from a reload, for push
// notifications. Kind is "scalar", "histogram", "graph" or "hparams".
type Delta struct {
	Run  string `json:"run"`
	Kind string `json:"kind"`
	Tag  string `json:"tag,omitempty"`
	Step int64  `json:"step"`
}

// Accumulator indexes the event files of a single run directory. Loading is
// incremental: each event file is re-read only past the offset that was
// complete at the previous load, so growing files are tailed cheaply.
//
// When a run restarts from an earlier step, newly read events carry a step
// at or below the last one seen. Points at or past that step are purged per
// tag, so the series reflects the surviving timeline.
type Accumulator struct {
	run      string
	dir      string
	histoCap int

	mu          sync.RWMutex
	scalars     map[string]*btree.BTree
	lastScalar  map[string]int64
	histograms  map[string][]HistogramPoint
	lastHisto   map[string]int64
	graphDef    []byte
	manifest    *RunManifest
	manifestRaw string
	checkpoint  string
	firstWall   float64
	lastWall    float64
	offsets     map[string]int64
}

func byStep(a, b interface{}) bool {
	return a.(*ScalarPoint).Step < b.(*ScalarPoint).Step
}

// NewAccumulator returns an empty accumulator for the run rooted at dir.
// histoCap bounds the retained histogram points per tag.
func NewAccumulator(run, dir string, histoCap int) *Accumulator {
	if histoCap < 2 {
		histoCap = 2
	}
	return &Accumulator{
		run:        run,
		dir:        dir,
		histoCap:   histoCap,
		scalars:    make(map[string]*btree.BTree),
		lastScalar: make(map[string]int64),
		histograms: make(map[string][]HistogramPoint),
		lastHisto:  make(map[string]int64),
		offsets:    make(map[string]int64),
	}
}

// Run returns the run name the accumulator indexes.
func (a *Accumulator) Run() string { return a.run }

// Load ingests everything new in the run directory and reports what
// changed, aggregated to the latest step per (kind, tag).
func (a *Accumulator) Load() ([]Delta, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]Delta)
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), eventFilePrefix) {
			continue
		}
		a.loadFile(filepath.Join(a.dir, ent.Name()), changes)
	}
	a.loadManifest(changes)

	deltas := make([]Delta, 0, len(changes))
	for _, d := range changes {
		deltas = append(deltas, d)
	}
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Kind != deltas[j].Kind {
			return deltas[i].Kind < deltas[j].Kind
		}
		return deltas[i].Tag < deltas[j].Tag
	})
	return deltas, nil
}

// loadFile tails one event file from its last complete offset. A truncated
// or checksum-failed tail ends the pass without advancing the offset; the
// next load retries from the same place, by which time the writer may have
// completed the record.
func (a *Accumulator) loadFile(path string, changes map[string]Delta) {
	fr, err := event.OpenFileAt(path, a.offsets[path])
	if err != nil {
		logging.Warn("skipping unreadable event file", "path", path, "error", err)
		return
	}
	defer fr.Close()

	for {
		e, err := fr.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, tfrecord.ErrChecksum):
				// Live tail, retry on the next load.
			default:
				logging.Warn("stopping on undecodable event", "path", path, "error", err)
			}
			a.mu.Lock()
			a.offsets[path] = fr.Offset()
			a.mu.Unlock()
			return
		}
		a.ingest(e, changes)
	}
}

func (a *Accumulator) ingest(e *event.Event, changes map[string]Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.WallTime > 0 {
		if a.firstWall == 0 || e.WallTime < a.firstWall {
			a.firstWall = e.WallTime
		}
		if e.WallTime > a.lastWall {
			a.lastWall = e.WallTime
		}
	}

	if len(e.GraphDef) > 0 {
		a.graphDef = e.GraphDef
		record(changes, Delta{Run: a.run, Kind: "graph", Step: e.Step})
	}
	if e.SessionLog != nil && e.SessionLog.Status == event.StatusCheckpoint {
		a.checkpoint = e.SessionLog.CheckpointPath
	}
	if e.Summary == nil {
		return
	}
	for _, v := range e.Summary.Values {
		switch {
		case v.SimpleValue != nil:
			a.addScalar(v.Tag, ScalarPoint{
				WallTime: e.WallTime,
				Step:     e.Step,
				Value:    float64(*v.SimpleValue),
			})
			record(changes, Delta{Run: a.run, Kind: "scalar", Tag: v.Tag, Step: e.Step})
		case v.Histo != nil:
			a.addHistogram(v.Tag, HistogramPoint{
				WallTime: e.WallTime,
				Step:     e.Step,
				Histo:    v.Histo,
			})
			record(changes, Delta{Run: a.run, Kind: "histogram", Tag: v.Tag, Step: e.Step})
		}
	}
}

func record(changes map[string]Delta, d Delta) {
	key := d.Kind + "\x00" + d.Tag
	if prev, ok := changes[key]; ok && prev.Step > d.Step {
		return
	}
	changes[key] = d
}

func (a *Accumulator) addScalar(tag string, p ScalarPoint) {
	tr, ok := a.scalars[tag]
	if !ok {
		tr = btree.NewNonConcurrent(byStep)
		a.scalars[tag] = tr
	}
	if last, ok := a.lastScalar[tag]; ok && p.Step <= last {
		a.purgeFrom(tr, p.Step)
	}
	tr.Set(&p)
	a.lastScalar[tag] = p.Step
}

// purgeFrom removes every point with step >= from.
func (a *Accumulator) purgeFrom(tr *btree.BTree, from int64) {
	var doomed []interface{}
	tr.Ascend(&ScalarPoint{Step: from}, func(item interface{}) bool {
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		tr.Delete(item)
	}
}

func (a *Accumulator) addHistogram(tag string, p HistogramPoint) {
	points := a.histograms[tag]
	if last, ok := a.lastHisto[tag]; ok && p.Step <= last {
		kept := points[:0]
		for _, q := range points {
			if q.Step < p.Step {
				kept = append(kept, q)
			}
		}
		points = kept
	}
	if len(points) >= a.histoCap {
		points = decimate(points)
	}
	a.histograms[tag] = append(points, p)
	a.lastHisto[tag] = p.Step
}

// decimate halves a series by keeping every other point, oldest first, so
// retention stays bounded while the series keeps its overall shape.
func decimate(points []HistogramPoint) []HistogramPoint {
	kept := points[:0]
	for i := 0; i < len(points); i += 2 {
		kept = append(kept, points[i])
	}
	return kept
}

func (a *Accumulator) loadManifest(changes map[string]Delta) {
	buf, err := os.ReadFile(filepath.Join(a.dir, "manifest.json"))
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if string(buf) == a.manifestRaw {
		return
	}
	m := &RunManifest{
		ID:      gjson.GetBytes(buf, "id").String(),
		Hparams: make(map[string]string),
	}
	gjson.GetBytes(buf, "hparams").ForEach(func(key, value gjson.Result) bool {
		m.Hparams[key.String()] = value.String()
		return true
	})
	a.manifest = m
	a.manifestRaw = string(buf)
	record(changes, Delta{Run: a.run, Kind: "hparams"})
}

// ScalarTags returns the scalar tags seen so far, sorted.
func (a *Accumulator) ScalarTags() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedTags(a.scalars)
}

// HistogramTags returns the histogram tags seen so far, sorted.
func (a *Accumulator) HistogramTags() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tags := make([]string, 0, len(a.histograms))
	for tag := range a.histograms {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func sortedTags(m map[string]*btree.BTree) []string {
	tags := make([]string, 0, len(m))
	for tag := range m {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Scalars returns the series for one tag in step order.
func (a *Accumulator) Scalars(tag string) ([]ScalarPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tr, ok := a.scalars[tag]
	if !ok {
		return nil, false
	}
	points := make([]ScalarPoint, 0, tr.Len())
	tr.Ascend(nil, func(item interface{}) bool {
		points = append(points, *item.(*ScalarPoint))
		return true
	})
	return points, true
}

// Histograms returns the retained histogram series for one tag.
func (a *Accumulator) Histograms(tag string) ([]HistogramPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	points, ok := a.histograms[tag]
	if !ok {
		return nil, false
	}
	out := make([]HistogramPoint, len(points))
	copy(out, points)
	return out, true
}

// GraphDef returns the latest serialized graph logged to the run.
func (a *Accumulator) GraphDef() ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.graphDef == nil {
		return nil, false
	}
	return a.graphDef, true
}

// Manifest returns the run manifest, when one was found.
func (a *Accumulator) Manifest() (RunManifest, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.manifest == nil {
		return RunManifest{}, false
	}
	m := RunManifest{ID: a.manifest.ID, Hparams: make(map[string]string, len(a.manifest.Hparams))}
	for k, v := range a.manifest.Hparams {
		m.Hparams[k] = v
	}
	return m, true
}

// LastCheckpoint returns the checkpoint path of the latest checkpoint
// session log, or "".
func (a *Accumulator) LastCheckpoint() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checkpoint
}

// Times returns the first and last event wall times seen, in seconds since
// the epoch. Both are zero before any event was read.
func (a *Accumulator) Times() (first, last float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.firstWall, a.lastWall
}
