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
)

func TestMultiplexerDiscovery(t *testing.T) {
	logdir := t.TempDir()
	writeEvents(t, filepath.Join(logdir, "run1"), scalarEvent("loss", 1, 100, 1))
	writeEvents(t, filepath.Join(logdir, "nested", "run2"), scalarEvent("loss", 1, 100, 1))
	require.NoError(t, os.MkdirAll(filepath.Join(logdir, "empty"), 0o755))

	m := NewMultiplexer(logdir, 10)
	deltas, err := m.Reload()
	require.NoError(t, err)

	assert.Equal(t, []string{"nested/run2", "run1"}, m.Runs())

	added := make(map[string]bool)
	for _, d := range deltas {
		if d.Kind == "run-added" {
			added[d.Run] = true
		}
	}
	assert.True(t, added["run1"])
	assert.True(t, added["nested/run2"])

	acc, ok := m.Run("run1")
	require.True(t, ok)
	points, ok := acc.Scalars("loss")
	require.True(t, ok)
	assert.Len(t, points, 1)

	_, ok = m.Run("empty")
	assert.False(t, ok)
}

func TestMultiplexerRootRun(t *testing.T) {
	logdir := t.TempDir()
	writeEvents(t, logdir, scalarEvent("loss", 1, 100, 1))

	m := NewMultiplexer(logdir, 10)
	_, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"."}, m.Runs())
}

func TestMultiplexerRunRemoval(t *testing.T) {
	logdir := t.TempDir()
	dir := filepath.Join(logdir, "run1")
	writeEvents(t, dir, scalarEvent("loss", 1, 100, 1))

	m := NewMultiplexer(logdir, 10)
	_, err := m.Reload()
	require.NoError(t, err)
	require.Equal(t, []string{"run1"}, m.Runs())

	require.NoError(t, os.RemoveAll(dir))
	deltas, err := m.Reload()
	require.NoError(t, err)
	assert.Empty(t, m.Runs())

	removed := false
	for _, d := range deltas {
		if d.Kind == "run-removed" && d.Run == "run1" {
			removed = true
		}
	}
	assert.True(t, removed)
}

func TestMultiplexerMissingLogdir(t *testing.T) {
	m := NewMultiplexer(filepath.Join(t.TempDir(), "nope"), 10)
	_, err := m.Reload()
	assert.Error(t, err)
}
