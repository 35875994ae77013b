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
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

// archiveManifestName is the manifest's entry name inside a run archive.
// It sorts before the data entries and is always written first.
const archiveManifestName = "MANIFEST.json"

// ArchiveManifest records what a run archive contains. Files maps each
// archived path, relative to the run directory, to the blake3 digest of its
// contents.
type ArchiveManifest struct {
	Run     string            `json:"run"`
	Created time.Time         `json:"created"`
	Files   map[string]string `json:"files"`
}

type archiveFile struct {
	rel  string
	path string
	size int64
	mode fs.FileMode
	mod  time.Time
}

// Archive writes the run directory dir to w as a tar.xz stream. The first
// entry is a manifest with a blake3 digest per file; VerifyArchive checks
// an archive against it. Each file is captured at the size it had when the
// directory was scanned, so archiving a live run is safe.
func Archive(dir string, w io.Writer) error {
	files, err := scanArchiveDir(dir)
	if err != nil {
		return err
	}

	manifest := ArchiveManifest{
		Run:     filepath.Base(dir),
		Created: time.Now().UTC(),
		Files:   make(map[string]string, len(files)),
	}
	for _, f := range files {
		digest, err := hashFilePrefix(f.path, f.size)
		if err != nil {
			return errors.Wrapf(err, "digest %s", f.rel)
		}
		manifest.Files[f.rel] = digest
	}
	manifestData, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode archive manifest")
	}

	xzw, err := xz.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "create xz writer")
	}
	tw := tar.NewWriter(xzw)

	if err := writeTarEntry(tw, archiveManifestName, manifest.Created, int64(len(manifestData)), 0o644,
		func(dst io.Writer) error {
			_, err := dst.Write(manifestData)
			return err
		}); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeTarEntry(tw, f.rel, f.mod, f.size, f.mode.Perm(), func(dst io.Writer) error {
			src, err := os.Open(f.path)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.CopyN(dst, src, f.size)
			return err
		}); err != nil {
			return errors.Wrapf(err, "archive %s", f.rel)
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "close tar writer")
	}
	return errors.Wrap(xzw.Close(), "close xz writer")
}

func scanArchiveDir(dir string) ([]archiveFile, error) {
	var files []archiveFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, archiveFile{
			rel:  filepath.ToSlash(rel),
			path: path,
			size: info.Size(),
			mode: info.Mode(),
			mod:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan run directory %s", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func writeTarEntry(tw *tar.Writer, name string, mod time.Time, size int64, mode fs.FileMode, write func(io.Writer) error) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(mode),
		Size:    size,
		ModTime: mod,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	return write(tw)
}

// hashFilePrefix digests the first size bytes of the file, matching what
// Archive will copy into the tar entry.
func hashFilePrefix(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, io.LimitReader(f, size)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyArchive reads a run archive, re-hashes every entry and compares the
// digests against the leading manifest. It returns the manifest when the
// archive is intact.
func VerifyArchive(r io.Reader) (*ArchiveManifest, error) {
	xzr, err := xz.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open xz stream")
	}
	tr := tar.NewReader(xzr)

	hdr, err := tr.Next()
	if err != nil {
		return nil, errors.Wrap(err, "read archive")
	}
	if hdr.Name != archiveManifestName {
		return nil, errors.Errorf("archive starts with %q, want %q", hdr.Name, archiveManifestName)
	}
	var manifest ArchiveManifest
	if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
		return nil, errors.Wrap(err, "decode archive manifest")
	}

	seen := make(map[string]bool, len(manifest.Files))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read archive")
		}
		want, ok := manifest.Files[hdr.Name]
		if !ok {
			return nil, errors.Errorf("entry %q not in manifest", hdr.Name)
		}
		h := blake3.New()
		if _, err := io.Copy(h, tr); err != nil {
			return nil, errors.Wrapf(err, "read entry %q", hdr.Name)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return nil, errors.Errorf("digest mismatch for %q", hdr.Name)
		}
		seen[hdr.Name] = true
	}
	for name := range manifest.Files {
		if !seen[name] {
			return nil, errors.Errorf("entry %q missing from archive", name)
		}
	}
	return &manifest, nil
}
