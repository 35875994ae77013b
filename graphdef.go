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

package edward

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// GraphDef wire format. The field numbers below follow the tensorflow
// GraphDef, NodeDef, AttrValue, TensorProto and TensorShapeProto messages so
// that serialized graphs display in standard tooling.
const (
	graphDefNodeField     = 1
	graphDefVersionsField = 4

	nodeDefNameField   = 1
	nodeDefOpField     = 2
	nodeDefInputField  = 3
	nodeDefDeviceField = 4
	nodeDefAttrField   = 5

	attrEntryKeyField   = 1
	attrEntryValueField = 2

	attrValueStringField = 2
	attrValueIntField    = 3
	attrValueFloatField  = 4
	attrValueBoolField   = 5
	attrValueTypeField   = 6
	attrValueShapeField  = 7
	attrValueTensorField = 8

	shapeProtoDimField     = 2
	shapeProtoUnknownField = 3
	shapeDimSizeField      = 1

	tensorProtoDtypeField     = 1
	tensorProtoShapeField     = 2
	tensorProtoFloatValField  = 5
	tensorProtoDoubleValField = 6

	versionDefProducerField = 1
)

// graphDefProducer is written into the serialized graph's version block.
const graphDefProducer = 27

// WriteTo writes out a serialized representation of g in binary wire format.
// This graph definition can be loaded into another graph with Import, and is
// the format accepted by event files that attach a graph to a run.
func (g *Graph) WriteTo(w io.Writer) (int64, error) {
	buf, err := g.marshalDef()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// Import imports the nodes from a serialized graph definition into g, naming
// them under prefix when it is non-empty.
//
// Nodes must be serialized in an order where every input precedes its use,
// which is how WriteTo emits them.
func (g *Graph) Import(def []byte, prefix string) error {
	nodes, err := parseGraphDef(def)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		spec := OpSpec{
			Type:   n.op,
			Name:   prefixed(prefix, n.name),
			Attrs:  n.attrs,
			Device: n.device,
		}
		for _, in := range n.inputs {
			if rest, ok := strings.CutPrefix(in, "^"); ok {
				cop := g.Operation(prefixed(prefix, rest))
				if cop == nil {
					return fmt.Errorf("import: node %q depends on unknown node %q", n.name, rest)
				}
				spec.ControlDependencies = append(spec.ControlDependencies, cop)
				continue
			}
			name, _, _ := strings.Cut(in, ":")
			iop := g.Operation(prefixed(prefix, name))
			if iop == nil {
				return fmt.Errorf("import: node %q consumes unknown node %q", n.name, name)
			}
			spec.Input = append(spec.Input, iop.Output(0))
		}
		if _, err := g.AddOperation(spec); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	return nil
}

// NodeInfo describes one node of a serialized graph definition. Control
// inputs keep their "^" prefix, as in the wire format.
type NodeInfo struct {
	Name   string
	Op     string
	Inputs []string
	Device string
}

// GraphDefNodes decodes the node list of a serialized graph definition, as
// written by Graph.WriteTo, without importing it into a graph.
func GraphDefNodes(def []byte) ([]NodeInfo, error) {
	nodes, err := parseGraphDef(def)
	if err != nil {
		return nil, err
	}
	infos := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		infos[i] = NodeInfo{Name: n.name, Op: n.op, Inputs: n.inputs, Device: n.device}
	}
	return infos, nil
}

func prefixed(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (g *Graph) marshalDef() ([]byte, error) {
	var buf []byte
	for _, op := range g.snapshot() {
		node, err := marshalNodeDef(op)
		if err != nil {
			return nil, err
		}
		buf = appendMessage(buf, graphDefNodeField, node)
	}
	var ver []byte
	ver = protowire.AppendTag(ver, versionDefProducerField, protowire.VarintType)
	ver = protowire.AppendVarint(ver, graphDefProducer)
	return appendMessage(buf, graphDefVersionsField, ver), nil
}

func marshalNodeDef(op *Operation) ([]byte, error) {
	var buf []byte
	buf = appendString(buf, nodeDefNameField, op.Name())
	buf = appendString(buf, nodeDefOpField, op.Type())
	for _, in := range op.inputs {
		buf = appendString(buf, nodeDefInputField, in.Op.Name())
	}
	for _, c := range op.control {
		buf = appendString(buf, nodeDefInputField, "^"+c.Name())
	}
	if op.device != "" {
		buf = appendString(buf, nodeDefDeviceField, op.device)
	}
	keys := make([]string, 0, len(op.attrs))
	for k := range op.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := marshalAttrValue(op.attrs[k])
		if err != nil {
			return nil, fmt.Errorf("node %q attribute %q: %w", op.Name(), k, err)
		}
		var entry []byte
		entry = appendString(entry, attrEntryKeyField, k)
		entry = appendMessage(entry, attrEntryValueField, value)
		buf = appendMessage(buf, nodeDefAttrField, entry)
	}
	return buf, nil
}

func marshalAttrValue(v any) ([]byte, error) {
	var buf []byte
	switch v := v.(type) {
	case string:
		return appendString(buf, attrValueStringField, v), nil
	case int:
		buf = protowire.AppendTag(buf, attrValueIntField, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(int64(v))), nil
	case int64:
		buf = protowire.AppendTag(buf, attrValueIntField, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(v)), nil
	case float64:
		buf = protowire.AppendTag(buf, attrValueFloatField, protowire.Fixed32Type)
		return protowire.AppendFixed32(buf, math.Float32bits(float32(v))), nil
	case bool:
		buf = protowire.AppendTag(buf, attrValueBoolField, protowire.VarintType)
		if v {
			return protowire.AppendVarint(buf, 1), nil
		}
		return protowire.AppendVarint(buf, 0), nil
	case DataType:
		buf = protowire.AppendTag(buf, attrValueTypeField, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(v)), nil
	case Shape:
		return appendMessage(buf, attrValueShapeField, marshalShapeProto(v)), nil
	case *Tensor:
		tp, err := marshalTensorProto(v)
		if err != nil {
			return nil, err
		}
		return appendMessage(buf, attrValueTensorField, tp), nil
	}
	return nil, fmt.Errorf("unsupported attribute type %T", v)
}

func marshalShapeProto(s Shape) []byte {
	var buf []byte
	dims, err := s.ToSlice()
	if err != nil {
		buf = protowire.AppendTag(buf, shapeProtoUnknownField, protowire.VarintType)
		return protowire.AppendVarint(buf, 1)
	}
	for _, d := range dims {
		var dim []byte
		dim = protowire.AppendTag(dim, shapeDimSizeField, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		buf = appendMessage(buf, shapeProtoDimField, dim)
	}
	return buf
}

func marshalTensorProto(t *Tensor) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, tensorProtoDtypeField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.DataType()))
	buf = appendMessage(buf, tensorProtoShapeField, marshalShapeProto(t.Shape()))
	flat, err := t.Float64s()
	if err != nil {
		return nil, err
	}
	var vals []byte
	switch t.DataType() {
	case Double:
		for _, v := range flat {
			vals = protowire.AppendFixed64(vals, math.Float64bits(v))
		}
		buf = appendMessage(buf, tensorProtoDoubleValField, vals)
	case Float:
		for _, v := range flat {
			vals = protowire.AppendFixed32(vals, math.Float32bits(float32(v)))
		}
		buf = appendMessage(buf, tensorProtoFloatValField, vals)
	default:
		return nil, fmt.Errorf("unsupported tensor type %v", t.DataType())
	}
	return buf, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

type nodeDef struct {
	name   string
	op     string
	inputs []string
	device string
	attrs  map[string]any
}

func parseGraphDef(def []byte) ([]nodeDef, error) {
	var nodes []nodeDef
	for len(def) > 0 {
		num, typ, n := protowire.ConsumeTag(def)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		def = def[n:]
		if num == graphDefNodeField && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(def)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			def = def[n:]
			node, err := parseNodeDef(msg)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, def)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		def = def[n:]
	}
	return nodes, nil
}

func parseNodeDef(msg []byte) (nodeDef, error) {
	node := nodeDef{attrs: make(map[string]any)}
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return node, protowire.ParseError(n)
		}
		msg = msg[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return node, protowire.ParseError(n)
			}
			msg = msg[n:]
			continue
		}
		val, n := protowire.ConsumeBytes(msg)
		if n < 0 {
			return node, protowire.ParseError(n)
		}
		msg = msg[n:]
		switch num {
		case nodeDefNameField:
			node.name = string(val)
		case nodeDefOpField:
			node.op = string(val)
		case nodeDefInputField:
			node.inputs = append(node.inputs, string(val))
		case nodeDefDeviceField:
			node.device = string(val)
		case nodeDefAttrField:
			key, value, err := parseAttrEntry(val)
			if err != nil {
				return node, fmt.Errorf("node %q: %w", node.name, err)
			}
			node.attrs[key] = value
		}
	}
	return node, nil
}

func parseAttrEntry(msg []byte) (string, any, error) {
	var key string
	var value any
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		msg = msg[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			msg = msg[n:]
			continue
		}
		val, n := protowire.ConsumeBytes(msg)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		msg = msg[n:]
		switch num {
		case attrEntryKeyField:
			key = string(val)
		case attrEntryValueField:
			v, err := parseAttrValue(val)
			if err != nil {
				return "", nil, fmt.Errorf("attribute %q: %w", key, err)
			}
			value = v
		}
	}
	if key == "" || value == nil {
		return "", nil, fmt.Errorf("malformed attribute entry")
	}
	return key, value, nil
}

func parseAttrValue(msg []byte) (any, error) {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]
		switch {
		case num == attrValueStringField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return string(val), nil
		case num == attrValueIntField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return int64(v), nil
		case num == attrValueFloatField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return float64(math.Float32frombits(v)), nil
		case num == attrValueBoolField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return v != 0, nil
		case num == attrValueTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return DataType(v), nil
		case num == attrValueShapeField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return parseShapeProto(val)
		case num == attrValueTensorField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return parseTensorProto(val)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
		}
	}
	return nil, fmt.Errorf("empty attribute value")
}

func parseShapeProto(msg []byte) (Shape, error) {
	var dims []int64
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return Shape{}, protowire.ParseError(n)
		}
		msg = msg[n:]
		switch {
		case num == shapeProtoUnknownField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return Shape{}, protowire.ParseError(n)
			}
			msg = msg[n:]
			if v != 0 {
				return Shape{}, nil
			}
		case num == shapeProtoDimField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return Shape{}, protowire.ParseError(n)
			}
			msg = msg[n:]
			size := int64(-1)
			for len(val) > 0 {
				dnum, dtyp, n := protowire.ConsumeTag(val)
				if n < 0 {
					return Shape{}, protowire.ParseError(n)
				}
				val = val[n:]
				if dnum == shapeDimSizeField && dtyp == protowire.VarintType {
					v, n := protowire.ConsumeVarint(val)
					if n < 0 {
						return Shape{}, protowire.ParseError(n)
					}
					val = val[n:]
					size = int64(v)
					continue
				}
				n = protowire.ConsumeFieldValue(dnum, dtyp, val)
				if n < 0 {
					return Shape{}, protowire.ParseError(n)
				}
				val = val[n:]
			}
			dims = append(dims, size)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return Shape{}, protowire.ParseError(n)
			}
			msg = msg[n:]
		}
	}
	return MakeShape(dims...), nil
}

func parseTensorProto(msg []byte) (*Tensor, error) {
	dt := Double
	shape := ScalarShape()
	var flat []float64
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		msg = msg[n:]
		switch {
		case num == tensorProtoDtypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
			dt = DataType(v)
		case num == tensorProtoShapeField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
			s, err := parseShapeProto(val)
			if err != nil {
				return nil, err
			}
			shape = s
		case num == tensorProtoDoubleValField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
			for len(val) > 0 {
				v, n := protowire.ConsumeFixed64(val)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				val = val[n:]
				flat = append(flat, math.Float64frombits(v))
			}
		case num == tensorProtoFloatValField && typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
			for len(val) > 0 {
				v, n := protowire.ConsumeFixed32(val)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				val = val[n:]
				flat = append(flat, float64(math.Float32frombits(v)))
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			msg = msg[n:]
		}
	}
	if dt != Double && dt != Float {
		return nil, fmt.Errorf("unsupported tensor type %v in graph definition", dt)
	}
	return NewTensorValue(dt, shape, flat)
}
