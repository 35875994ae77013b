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
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/edward-ml/edward/internal/logging"
)

// Multiplexer discovers the runs under a log directory and owns one
// Accumulator per run. A run is any directory containing at least one event
// file; its name is the directory's path relative to the log directory.
type Multiplexer struct {
	logdir   string
	histoCap int

	// reloadMu serializes reload passes, so a slow pass and a manual
	// trigger never tail the same file concurrently.
	reloadMu sync.Mutex

	mu   sync.RWMutex
	runs map[string]*Accumulator
}

// NewMultiplexer returns a multiplexer over logdir. histoCap bounds
// retained histogram points per tag in each run.
func NewMultiplexer(logdir string, histoCap int) *Multiplexer {
	return &Multiplexer{
		logdir:   logdir,
		histoCap: histoCap,
		runs:     make(map[string]*Accumulator),
	}
}

// Logdir returns the directory the multiplexer watches.
func (m *Multiplexer) Logdir() string { return m.logdir }

// Reload rescans the log directory, picks up new runs, drops deleted ones
// and tails every run's event files. It reports the aggregated changes.
func (m *Multiplexer) Reload() ([]Delta, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	found, err := m.discover()
	if err != nil {
		return nil, err
	}

	var deltas []Delta
	m.mu.Lock()
	for run, dir := range found {
		if _, ok := m.runs[run]; !ok {
			m.runs[run] = NewAccumulator(run, dir, m.histoCap)
			logging.RunEvent("discovered", run, "dir", dir)
			deltas = append(deltas, Delta{Run: run, Kind: "run-added"})
		}
	}
	for run := range m.runs {
		if _, ok := found[run]; !ok {
			delete(m.runs, run)
			logging.RunEvent("removed", run)
			deltas = append(deltas, Delta{Run: run, Kind: "run-removed"})
		}
	}
	accs := make([]*Accumulator, 0, len(m.runs))
	for _, acc := range m.runs {
		accs = append(accs, acc)
	}
	m.mu.Unlock()

	sort.Slice(accs, func(i, j int) bool { return accs[i].Run() < accs[j].Run() })
	for _, acc := range accs {
		ds, err := acc.Load()
		if err != nil {
			logging.Warn("run load failed", "run", acc.Run(), "error", err)
			continue
		}
		deltas = append(deltas, ds...)
	}
	return deltas, nil
}

// discover maps run names to their directories.
func (m *Multiplexer) discover() (map[string]string, error) {
	found := make(map[string]string)
	err := filepath.WalkDir(m.logdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A run deleted mid-walk is not a reload failure.
			if path == m.logdir {
				return err
			}
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), eventFilePrefix) {
			return nil
		}
		dir := filepath.Dir(path)
		rel, err := filepath.Rel(m.logdir, dir)
		if err != nil {
			return err
		}
		found[filepath.ToSlash(rel)] = dir
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan log directory %s", m.logdir)
	}
	return found, nil
}

// Runs returns the known run names, sorted.
func (m *Multiplexer) Runs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]string, 0, len(m.runs))
	for run := range m.runs {
		runs = append(runs, run)
	}
	sort.Strings(runs)
	return runs
}

// Run returns the accumulator for one run.
func (m *Multiplexer) Run(name string) (*Accumulator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.runs[name]
	return acc, ok
}
