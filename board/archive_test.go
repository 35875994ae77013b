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
	"archive/tar"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

func TestArchiveRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run1")
	eventPath := writeEvents(t, dir,
		scalarEvent("loss", 1, 100, 3),
		scalarEvent("loss", 2, 101, 2),
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"id":"abc"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "notes.txt"), []byte("hello"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Archive(dir, &buf))

	m, err := VerifyArchive(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "run1", m.Run)
	require.Len(t, m.Files, 3)
	assert.Contains(t, m.Files, filepath.Base(eventPath))
	assert.Contains(t, m.Files, "manifest.json")
	assert.Contains(t, m.Files, "sub/notes.txt")
}

type tarEntry struct {
	name string
	data []byte
}

// buildArchive writes a tar.xz stream by hand so tests can construct
// archives VerifyArchive must reject. A nil manifest skips the leading
// manifest entry.
func buildArchive(t *testing.T, manifest *ArchiveManifest, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	xzw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xzw)

	if manifest != nil {
		data, err := json.Marshal(manifest)
		require.NoError(t, err)
		entries = append([]tarEntry{{archiveManifestName, data}}, entries...)
	}
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:    e.name,
			Mode:    0o644,
			Size:    int64(len(e.data)),
			ModTime: time.Now(),
		}))
		_, err := tw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xzw.Close())
	return buf.Bytes()
}

func blakeHex(data []byte) string {
	h := blake3.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func TestVerifyArchiveDetectsCorruption(t *testing.T) {
	m := &ArchiveManifest{
		Run:   "run1",
		Files: map[string]string{"data.txt": blakeHex([]byte("original"))},
	}
	raw := buildArchive(t, m, []tarEntry{{"data.txt", []byte("tampered")}})

	_, err := VerifyArchive(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestVerifyArchiveUnknownEntry(t *testing.T) {
	m := &ArchiveManifest{Run: "run1", Files: map[string]string{}}
	raw := buildArchive(t, m, []tarEntry{{"extra.txt", []byte("x")}})

	_, err := VerifyArchive(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in manifest")
}

func TestVerifyArchiveMissingEntry(t *testing.T) {
	m := &ArchiveManifest{
		Run:   "run1",
		Files: map[string]string{"gone.txt": blakeHex([]byte("x"))},
	}
	raw := buildArchive(t, m, nil)

	_, err := VerifyArchive(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing from archive")
}

func TestVerifyArchiveRequiresLeadingManifest(t *testing.T) {
	raw := buildArchive(t, nil, []tarEntry{{"data.txt", []byte("x")}})

	_, err := VerifyArchive(bytes.NewReader(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starts with")
}
