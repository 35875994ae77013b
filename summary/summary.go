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

// Package summary records training runs as event files. A Writer belongs to
// one run directory; scalars, histograms, images and the model graph logged
// through it appear in any dashboard that reads event files.
//
// Writes are queued and handed to a background goroutine, so logging from a
// training loop stays cheap. A full queue blocks rather than drops.
package summary

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/event"
)

// ErrClosed is returned by Writer methods after Close.
var ErrClosed = errors.New("summary: writer closed")

// manifestName is the run manifest file written next to the event file.
const manifestName = "manifest.json"

// Options configures a Writer. The zero value selects the defaults.
type Options struct {
	// QueueSize bounds the number of events waiting for the background
	// writer. Defaults to 256.
	QueueSize int
	// FlushInterval is how often buffered events are pushed to disk
	// without an explicit Flush. Defaults to 2s.
	FlushInterval time.Duration
}

// Writer logs summaries for a single run.
type Writer struct {
	fw    *event.FileWriter
	dir   string
	runID string
	start time.Time

	events chan *event.Event
	flushc chan chan error
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	closeErr error
	graphed  bool

	errMu sync.Mutex
	err   error
}

// NewWriter opens a new event file under dir and starts the background
// writer. Pass nil options for defaults. The run begins with a session start
// event.
func NewWriter(dir string, options *Options) (*Writer, error) {
	opts := Options{}
	if options != nil {
		opts = *options
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}

	fw, err := event.NewFileWriter(dir)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		fw:     fw,
		dir:    dir,
		runID:  uuid.New().String(),
		start:  time.Now(),
		events: make(chan *event.Event, opts.QueueSize),
		flushc: make(chan chan error),
		done:   make(chan struct{}),
	}
	if err := fw.WriteEvent(&event.Event{
		WallTime:   event.WallTime(w.start),
		SessionLog: &event.SessionLog{Status: event.StatusStart},
	}); err != nil {
		fw.Close()
		return nil, err
	}
	go w.loop(opts.FlushInterval)
	return w, nil
}

// Dir returns the run directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the event file's path.
func (w *Writer) Path() string { return w.fw.Path() }

// RunID returns the generated identity of this run, as recorded in the
// manifest.
func (w *Writer) RunID() string { return w.runID }

func (w *Writer) loop(flushEvery time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				w.setErr(w.fw.Flush())
				return
			}
			w.setErr(w.fw.WriteEvent(e))
		case ack := <-w.flushc:
			err := w.fw.Flush()
			w.setErr(err)
			ack <- err
		case <-ticker.C:
			w.setErr(w.fw.Flush())
		}
	}
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func (w *Writer) firstErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// enqueue hands an event to the background writer, blocking when the queue
// is full. The read lock keeps Close from closing the channel mid-send.
func (w *Writer) enqueue(e *event.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	w.events <- e
	return nil
}

// Scalar logs a single value under tag at step.
func (w *Writer) Scalar(tag string, value float64, step int64) error {
	v := float32(value)
	return w.enqueue(&event.Event{
		WallTime: event.WallTime(time.Now()),
		Step:     step,
		Summary: &event.Summary{Values: []*event.Value{
			{Tag: tag, SimpleValue: &v},
		}},
	})
}

// Histogram logs the distribution of values under tag at step.
func (w *Writer) Histogram(tag string, values []float64, step int64) error {
	h, err := makeHistogram(values)
	if err != nil {
		return err
	}
	return w.enqueue(&event.Event{
		WallTime: event.WallTime(time.Now()),
		Step:     step,
		Summary: &event.Summary{Values: []*event.Value{
			{Tag: tag, Histo: h},
		}},
	})
}

// Image logs img under tag at step, encoded as PNG.
func (w *Writer) Image(tag string, img image.Image, step int64) error {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return errors.Errorf("summary: image %q has empty bounds %v", tag, bounds)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return errors.Wrapf(err, "encode image %q", tag)
	}
	colorspace := int32(3)
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		colorspace = 1
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		colorspace = 4
	}
	return w.enqueue(&event.Event{
		WallTime: event.WallTime(time.Now()),
		Step:     step,
		Summary: &event.Summary{Values: []*event.Value{
			{Tag: tag, Image: &event.Image{
				Height:       int32(bounds.Dy()),
				Width:        int32(bounds.Dx()),
				Colorspace:   colorspace,
				EncodedImage: buf.Bytes(),
			}},
		}},
	})
}

// Graph logs the model graph so it renders in the dashboard's graph view.
// Only the first call writes; later calls are no-ops.
func (w *Writer) Graph(g *ed.Graph) error {
	w.mu.Lock()
	if w.graphed {
		w.mu.Unlock()
		return nil
	}
	w.graphed = true
	w.mu.Unlock()

	var buf bytes.Buffer
	if _, err := g.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "serialize graph")
	}
	return w.enqueue(&event.Event{
		WallTime: event.WallTime(time.Now()),
		GraphDef: buf.Bytes(),
	})
}

// SessionLog records a run lifecycle event, such as a saved checkpoint.
func (w *Writer) SessionLog(l *event.SessionLog, step int64) error {
	return w.enqueue(&event.Event{
		WallTime:   event.WallTime(time.Now()),
		Step:       step,
		SessionLog: l,
	})
}

// Hparams writes the run manifest next to the event file: the run's id, its
// start time and the given hyperparameters as JSON.
func (w *Writer) Hparams(hparams map[string]any) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	m := struct {
		ID        string         `json:"id"`
		StartTime time.Time      `json:"start_time"`
		Hparams   map[string]any `json:"hparams"`
	}{w.runID, w.start, hparams}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode run manifest")
	}
	path := filepath.Join(w.dir, manifestName)
	return errors.Wrap(os.WriteFile(path, buf, 0o644), "write run manifest")
}

// Flush blocks until every event accepted so far is on disk.
func (w *Writer) Flush() error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	ack := make(chan error, 1)
	w.flushc <- ack
	w.mu.RUnlock()
	return <-ack
}

// Close drains the queue, flushes and closes the event file. Further writes
// return ErrClosed. Close is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		err := w.closeErr
		w.mu.Unlock()
		return err
	}
	w.closed = true
	close(w.events)
	<-w.done
	err := w.firstErr()
	if cerr := w.fw.Close(); err == nil {
		err = cerr
	}
	w.closeErr = err
	w.mu.Unlock()
	return err
}
