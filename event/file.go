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

package event

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/edward-ml/edward/internal/tfrecord"
)

// FileWriter writes events to a new event file in a run directory. The file
// is named events.out.tfevents.<unixtime>.<hostname> and opens with the
// version event, so dashboards recognize it.
type FileWriter struct {
	mu     sync.Mutex
	f      *os.File
	w      *tfrecord.Writer
	path   string
	closed bool
}

// NewFileWriter creates the run directory if needed, opens a fresh event
// file inside it and writes the leading version event.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create run directory")
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	base := fmt.Sprintf("events.out.tfevents.%d.%s", time.Now().Unix(), host)
	f, path, err := createUnique(dir, base)
	if err != nil {
		return nil, errors.Wrap(err, "create event file")
	}
	fw := &FileWriter{f: f, w: tfrecord.NewWriter(f), path: path}
	version := &Event{WallTime: WallTime(time.Now()), FileVersion: FileVersion}
	if err := fw.WriteEvent(version); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return fw, nil
}

// createUnique opens base in dir, suffixing the name when a writer in the
// same second already claimed it.
func createUnique(dir, base string) (*os.File, string, error) {
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s.%d", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
}

// Path returns the event file's path.
func (fw *FileWriter) Path() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.path
}

// WriteEvent appends one event. The write is buffered until Flush or Close.
func (fw *FileWriter) WriteEvent(e *Event) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return errors.Wrap(os.ErrClosed, "write event")
	}
	return fw.w.WriteRecord(e.Marshal())
}

// Flush pushes buffered events to the file.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}
	return fw.w.Flush()
}

// Close flushes and closes the file. It is safe to call more than once.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}
	fw.closed = true
	if err := fw.w.Flush(); err != nil {
		fw.f.Close()
		return err
	}
	return errors.Wrap(fw.f.Close(), "close event file")
}

// FileReader iterates the events of one event file. A truncated final
// record, as seen when reading a file that is still being written, surfaces
// as io.ErrUnexpectedEOF; Offset then reports how far the reader safely got,
// so a later reader can resume from there.
type FileReader struct {
	f      *os.File
	r      *tfrecord.Reader
	offset int64
}

// OpenFile opens an event file for reading from the start.
func OpenFile(path string) (*FileReader, error) {
	return OpenFileAt(path, 0)
}

// OpenFileAt opens an event file and resumes reading at a byte offset
// previously reported by Offset.
func OpenFileAt(path string, offset int64) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open event file")
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "seek event file")
		}
	}
	return &FileReader{f: f, r: tfrecord.NewReader(bufio.NewReader(f)), offset: offset}, nil
}

// Next returns the next event. It returns io.EOF at a clean end of file and
// io.ErrUnexpectedEOF when the file ends mid-record.
func (fr *FileReader) Next() (*Event, error) {
	rec, err := fr.r.Next()
	if err != nil {
		return nil, err
	}
	e, err := Unmarshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	// Each record carries a 12-byte header and a 4-byte trailing checksum.
	fr.offset += int64(len(rec)) + 16
	return e, nil
}

// Offset returns the byte offset just past the last complete record read.
func (fr *FileReader) Offset() int64 {
	return fr.offset
}

// Close closes the underlying file.
func (fr *FileReader) Close() error {
	return fr.f.Close()
}
