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

// Package event implements the event-file format used to record training
// runs. Events carry scalar, histogram, image and graph summaries together
// with a wall time and a global step, framed as TFRecords in files named
// events.out.tfevents.<time>.<hostname>, so standard dashboard tooling can
// read what this package writes.
package event

import (
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers follow the tensorflow Event, Summary, HistogramProto and
// SessionLog messages.
const (
	eventWallTimeField    = 1
	eventStepField        = 2
	eventFileVersionField = 3
	eventGraphDefField    = 4
	eventSummaryField     = 5
	eventSessionLogField  = 7

	summaryValueField = 1

	valueTagField         = 1
	valueSimpleValueField = 2
	valueImageField       = 4
	valueHistoField       = 5
	valueNodeNameField    = 7

	histoMinField         = 1
	histoMaxField         = 2
	histoNumField         = 3
	histoSumField         = 4
	histoSumSquaresField  = 5
	histoBucketLimitField = 6
	histoBucketField      = 7

	imageHeightField     = 1
	imageWidthField      = 2
	imageColorspaceField = 3
	imageEncodedField    = 4

	sessionLogStatusField         = 1
	sessionLogCheckpointPathField = 2
	sessionLogMsgField            = 3
)

// FileVersion is the version string recorded as the first event of every
// event file.
const FileVersion = "brain.Event:2"

// SessionStatus describes the lifecycle transition a SessionLog records.
type SessionStatus int32

const (
	StatusUnspecified SessionStatus = 0
	StatusStart       SessionStatus = 1
	StatusStop        SessionStatus = 2
	StatusCheckpoint  SessionStatus = 3
)

// Event is one record of an event file. At most one of FileVersion,
// GraphDef, Summary and SessionLog is normally set.
type Event struct {
	// WallTime is seconds since the epoch, with fractional precision.
	WallTime float64
	// Step is the global step the event belongs to.
	Step        int64
	FileVersion string
	// GraphDef holds a serialized graph definition, as produced by
	// Graph.WriteTo.
	GraphDef   []byte
	Summary    *Summary
	SessionLog *SessionLog
}

// Summary holds the tagged values logged at one step.
type Summary struct {
	Values []*Value
}

// Value is a single tagged datum within a summary. Exactly one of
// SimpleValue, Histo and Image is set.
type Value struct {
	Tag      string
	NodeName string
	// SimpleValue is a scalar. A pointer distinguishes an unset value
	// from a recorded zero.
	SimpleValue *float32
	Histo       *Histogram
	Image       *Image
}

// Histogram summarizes a set of values bucketed by magnitude. Bucket i
// counts values in (BucketLimit[i-1], BucketLimit[i]].
type Histogram struct {
	Min        float64
	Max        float64
	Num        float64
	Sum        float64
	SumSquares float64

	BucketLimit []float64
	Bucket      []float64
}

// Image is an encoded image summary.
type Image struct {
	Height int32
	Width  int32
	// Colorspace is 1 for grayscale, 3 for RGB, 4 for RGBA.
	Colorspace   int32
	EncodedImage []byte
}

// SessionLog marks a run lifecycle transition, such as a start or a saved
// checkpoint.
type SessionLog struct {
	Status         SessionStatus
	CheckpointPath string
	Msg            string
}

// WallTime converts t to the fractional-seconds representation events use.
func WallTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Marshal encodes the event in binary wire format.
func (e *Event) Marshal() []byte {
	var buf []byte
	if e.WallTime != 0 {
		buf = protowire.AppendTag(buf, eventWallTimeField, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(e.WallTime))
	}
	if e.Step != 0 {
		buf = protowire.AppendTag(buf, eventStepField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.Step))
	}
	if e.FileVersion != "" {
		buf = appendString(buf, eventFileVersionField, e.FileVersion)
	}
	if len(e.GraphDef) > 0 {
		buf = appendMessage(buf, eventGraphDefField, e.GraphDef)
	}
	if e.Summary != nil {
		buf = appendMessage(buf, eventSummaryField, e.Summary.marshal())
	}
	if e.SessionLog != nil {
		buf = appendMessage(buf, eventSessionLogField, e.SessionLog.marshal())
	}
	return buf
}

func (s *Summary) marshal() []byte {
	var buf []byte
	for _, v := range s.Values {
		buf = appendMessage(buf, summaryValueField, v.marshal())
	}
	return buf
}

func (v *Value) marshal() []byte {
	var buf []byte
	if v.Tag != "" {
		buf = appendString(buf, valueTagField, v.Tag)
	}
	if v.SimpleValue != nil {
		buf = protowire.AppendTag(buf, valueSimpleValueField, protowire.Fixed32Type)
		buf = protowire.AppendFixed32(buf, math.Float32bits(*v.SimpleValue))
	}
	if v.Image != nil {
		buf = appendMessage(buf, valueImageField, v.Image.marshal())
	}
	if v.Histo != nil {
		buf = appendMessage(buf, valueHistoField, v.Histo.marshal())
	}
	if v.NodeName != "" {
		buf = appendString(buf, valueNodeNameField, v.NodeName)
	}
	return buf
}

func (h *Histogram) marshal() []byte {
	var buf []byte
	for _, f := range []struct {
		num protowire.Number
		val float64
	}{
		{histoMinField, h.Min},
		{histoMaxField, h.Max},
		{histoNumField, h.Num},
		{histoSumField, h.Sum},
		{histoSumSquaresField, h.SumSquares},
	} {
		buf = protowire.AppendTag(buf, f.num, protowire.Fixed64Type)
		buf = protowire.AppendFixed64(buf, math.Float64bits(f.val))
	}
	buf = appendMessage(buf, histoBucketLimitField, packDoubles(h.BucketLimit))
	buf = appendMessage(buf, histoBucketField, packDoubles(h.Bucket))
	return buf
}

func (im *Image) marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, imageHeightField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(im.Height))
	buf = protowire.AppendTag(buf, imageWidthField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(im.Width))
	buf = protowire.AppendTag(buf, imageColorspaceField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(im.Colorspace))
	buf = appendMessage(buf, imageEncodedField, im.EncodedImage)
	return buf
}

func (l *SessionLog) marshal() []byte {
	var buf []byte
	if l.Status != StatusUnspecified {
		buf = protowire.AppendTag(buf, sessionLogStatusField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(l.Status))
	}
	if l.CheckpointPath != "" {
		buf = appendString(buf, sessionLogCheckpointPathField, l.CheckpointPath)
	}
	if l.Msg != "" {
		buf = appendString(buf, sessionLogMsgField, l.Msg)
	}
	return buf
}

func packDoubles(vals []float64) []byte {
	buf := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		buf = protowire.AppendFixed64(buf, math.Float64bits(v))
	}
	return buf
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Unmarshal decodes an event from binary wire format. Unknown fields are
// skipped so that files written by newer tooling still read.
func Unmarshal(data []byte) (*Event, error) {
	e := &Event{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch {
		case num == eventWallTimeField && typ == protowire.Fixed64Type:
			e.WallTime = math.Float64frombits(fixed64(val))
		case num == eventStepField && typ == protowire.VarintType:
			e.Step = int64(varint(val))
		case num == eventFileVersionField && typ == protowire.BytesType:
			e.FileVersion = string(val)
		case num == eventGraphDefField && typ == protowire.BytesType:
			e.GraphDef = append([]byte(nil), val...)
		case num == eventSummaryField && typ == protowire.BytesType:
			s, err := unmarshalSummary(val)
			if err != nil {
				return err
			}
			e.Summary = s
		case num == eventSessionLogField && typ == protowire.BytesType:
			l, err := unmarshalSessionLog(val)
			if err != nil {
				return err
			}
			e.SessionLog = l
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalSummary(data []byte) (*Summary, error) {
	s := &Summary{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num == summaryValueField && typ == protowire.BytesType {
			v, err := unmarshalValue(val)
			if err != nil {
				return err
			}
			s.Values = append(s.Values, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func unmarshalValue(data []byte) (*Value, error) {
	v := &Value{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch {
		case num == valueTagField && typ == protowire.BytesType:
			v.Tag = string(val)
		case num == valueNodeNameField && typ == protowire.BytesType:
			v.NodeName = string(val)
		case num == valueSimpleValueField && typ == protowire.Fixed32Type:
			f := math.Float32frombits(fixed32(val))
			v.SimpleValue = &f
		case num == valueHistoField && typ == protowire.BytesType:
			h, err := unmarshalHistogram(val)
			if err != nil {
				return err
			}
			v.Histo = h
		case num == valueImageField && typ == protowire.BytesType:
			im, err := unmarshalImage(val)
			if err != nil {
				return err
			}
			v.Image = im
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalHistogram(data []byte) (*Histogram, error) {
	h := &Histogram{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if typ == protowire.Fixed64Type {
			f := math.Float64frombits(fixed64(val))
			switch num {
			case histoMinField:
				h.Min = f
			case histoMaxField:
				h.Max = f
			case histoNumField:
				h.Num = f
			case histoSumField:
				h.Sum = f
			case histoSumSquaresField:
				h.SumSquares = f
			case histoBucketLimitField:
				h.BucketLimit = append(h.BucketLimit, f)
			case histoBucketField:
				h.Bucket = append(h.Bucket, f)
			}
			return nil
		}
		if typ != protowire.BytesType {
			return nil
		}
		// Packed repeated doubles.
		switch num {
		case histoBucketLimitField:
			h.BucketLimit = appendPacked(h.BucketLimit, val)
		case histoBucketField:
			h.Bucket = appendPacked(h.Bucket, val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func unmarshalImage(data []byte) (*Image, error) {
	im := &Image{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch {
		case num == imageHeightField && typ == protowire.VarintType:
			im.Height = int32(varint(val))
		case num == imageWidthField && typ == protowire.VarintType:
			im.Width = int32(varint(val))
		case num == imageColorspaceField && typ == protowire.VarintType:
			im.Colorspace = int32(varint(val))
		case num == imageEncodedField && typ == protowire.BytesType:
			im.EncodedImage = append([]byte(nil), val...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return im, nil
}

func unmarshalSessionLog(data []byte) (*SessionLog, error) {
	l := &SessionLog{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch {
		case num == sessionLogStatusField && typ == protowire.VarintType:
			l.Status = SessionStatus(varint(val))
		case num == sessionLogCheckpointPathField && typ == protowire.BytesType:
			l.CheckpointPath = string(val)
		case num == sessionLogMsgField && typ == protowire.BytesType:
			l.Msg = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// eachField walks the top-level fields of a wire-format message, handing
// each one to fn with its raw value bytes. Groups are rejected, everything
// else round-trips through protowire's consume functions.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		var val []byte
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(data)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			val, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		if val == nil && typ != protowire.BytesType {
			val = data[:n]
		}
		if err := fn(num, typ, val); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func varint(val []byte) uint64 {
	v, _ := protowire.ConsumeVarint(val)
	return v
}

func fixed32(val []byte) uint32 {
	v, _ := protowire.ConsumeFixed32(val)
	return v
}

func fixed64(val []byte) uint64 {
	v, _ := protowire.ConsumeFixed64(val)
	return v
}

func appendPacked(dst []float64, val []byte) []float64 {
	for len(val) >= 8 {
		v, n := protowire.ConsumeFixed64(val)
		dst = append(dst, math.Float64frombits(v))
		val = val[n:]
	}
	return dst
}
