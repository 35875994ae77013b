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

package train

import (
	"bytes"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"

	ed "github.com/edward-ml/edward"
	"github.com/edward-ml/edward/internal/tfrecord"
)

// checkpointVersion is the first record of every checkpoint file.
const checkpointVersion = "edward.Checkpoint:1"

// ErrDigest is returned by Restore when the digest trailer does not match
// the records preceding it.
var ErrDigest = errors.New("train: checkpoint digest mismatch")

// Checkpoint entry field numbers.
const (
	entryNameField   = 1
	entryDTypeField  = 2
	entryShapeField  = 3
	entryValuesField = 4
)

// Save writes vars to path as a record stream: a version record, one entry
// per variable in name order, and a blake3 digest of the preceding records.
func Save(path string, vars map[string]*ed.Tensor) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	w := tfrecord.NewWriter(f)
	digest := blake3.New()

	write := func(rec []byte) error {
		digest.Write(rec)
		return w.WriteRecord(rec)
	}
	if err := write([]byte(checkpointVersion)); err != nil {
		f.Close()
		return errors.Wrap(err, "write checkpoint version")
	}
	for _, name := range names {
		rec, err := marshalEntry(name, vars[name])
		if err != nil {
			f.Close()
			return err
		}
		if err := write(rec); err != nil {
			f.Close()
			return errors.Wrapf(err, "write entry %q", name)
		}
	}
	if err := w.WriteRecord(digest.Sum(nil)); err != nil {
		f.Close()
		return errors.Wrap(err, "write checkpoint digest")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close checkpoint")
}

// Restore reads a checkpoint written by Save. It fails with ErrDigest when
// the trailer does not cover the records read, and with an ordinary error on
// framing or version problems.
func Restore(path string) (map[string]*ed.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	var records [][]byte
	r := tfrecord.NewReader(f)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read checkpoint")
		}
		records = append(records, rec)
	}
	if len(records) < 2 {
		return nil, errors.Errorf("checkpoint %s has %d records, want at least a version and a digest", path, len(records))
	}
	if got := string(records[0]); got != checkpointVersion {
		return nil, errors.Errorf("checkpoint version %q, want %q", got, checkpointVersion)
	}

	trailer := records[len(records)-1]
	digest := blake3.New()
	for _, rec := range records[:len(records)-1] {
		digest.Write(rec)
	}
	if !bytes.Equal(digest.Sum(nil), trailer) {
		return nil, ErrDigest
	}

	vars := make(map[string]*ed.Tensor, len(records)-2)
	for _, rec := range records[1 : len(records)-1] {
		name, t, err := unmarshalEntry(rec)
		if err != nil {
			return nil, err
		}
		vars[name] = t
	}
	return vars, nil
}

func marshalEntry(name string, t *ed.Tensor) ([]byte, error) {
	flat, err := t.Float64s()
	if err != nil {
		return nil, errors.Wrapf(err, "entry %q", name)
	}
	dims, err := t.Shape().ToSlice()
	if err != nil {
		return nil, errors.Wrapf(err, "entry %q", name)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, entryNameField, protowire.BytesType)
	buf = protowire.AppendString(buf, name)
	buf = protowire.AppendTag(buf, entryDTypeField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.DataType()))
	if len(dims) > 0 {
		var packed []byte
		for _, d := range dims {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		buf = protowire.AppendTag(buf, entryShapeField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}
	var values []byte
	for _, v := range flat {
		values = protowire.AppendFixed64(values, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, entryValuesField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, values)
	return buf, nil
}

func unmarshalEntry(data []byte) (string, *ed.Tensor, error) {
	var (
		name string
		dt   = ed.Double
		dims []int64
		flat []float64
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, errors.New("train: malformed checkpoint entry")
		}
		data = data[n:]
		switch {
		case num == entryNameField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", nil, errors.New("train: malformed checkpoint entry name")
			}
			name, data = v, data[n:]
		case num == entryDTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", nil, errors.New("train: malformed checkpoint entry dtype")
			}
			dt, data = ed.DataType(v), data[n:]
		case num == entryShapeField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, errors.New("train: malformed checkpoint entry shape")
			}
			data = data[n:]
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return "", nil, errors.New("train: malformed checkpoint shape dimension")
				}
				dims, v = append(dims, int64(d)), v[n:]
			}
		case num == entryValuesField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 || len(v)%8 != 0 {
				return "", nil, errors.New("train: malformed checkpoint entry values")
			}
			data = data[n:]
			flat = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed64(v)
				if n < 0 {
					return "", nil, errors.New("train: malformed checkpoint value")
				}
				flat, v = append(flat, math.Float64frombits(bits)), v[n:]
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, errors.New("train: malformed checkpoint entry field")
			}
			data = data[n:]
		}
	}
	if name == "" {
		return "", nil, errors.New("train: checkpoint entry has no name")
	}
	t, err := ed.NewTensorValue(dt, ed.MakeShape(dims...), flat)
	if err != nil {
		return "", nil, errors.Wrapf(err, "entry %q", name)
	}
	return name, t, nil
}
