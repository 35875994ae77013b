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
	"reflect"
)

// DataType holds the type for a scalar value. E.g., one slot in a tensor.
// The numeric values match the wire enumeration used in serialized graphs.
type DataType int32

// Types of scalar values in the edward type system.
const (
	Float  DataType = 1
	Double DataType = 2
	Int32  DataType = 3
	String DataType = 7
	Int64  DataType = 9
	Bool   DataType = 10
)

func (dt DataType) String() string {
	switch dt {
	case Float:
		return "float"
	case Double:
		return "double"
	case Int32:
		return "int32"
	case String:
		return "string"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("datatype(%d)", int32(dt))
}

// IsNumeric reports whether dt is one of the numeric element types.
func (dt DataType) IsNumeric() bool {
	switch dt {
	case Float, Double, Int32, Int64:
		return true
	}
	return false
}

// Tensor holds a multi-dimensional array of elements of a single data type.
// Tensors are treated as immutable once constructed: kernels and sessions
// allocate fresh tensors rather than writing into existing ones.
type Tensor struct {
	dt    DataType
	shape Shape

	// Exactly one of the following backs the tensor, selected by dt.
	// Float values are widened to float64 at construction and narrowed
	// back by Value.
	f64 []float64
	i32 []int32
	i64 []int64
	b   []bool
	s   []string
}

var types = []struct {
	typ      reflect.Type
	dataType DataType
}{
	{reflect.TypeOf(float32(0)), Float},
	{reflect.TypeOf(float64(0)), Double},
	{reflect.TypeOf(int32(0)), Int32},
	{reflect.TypeOf(int64(0)), Int64},
	{reflect.TypeOf(false), Bool},
	{reflect.TypeOf(""), String},
}

// NewTensor converts from a Go value to a Tensor. Valid values are scalars,
// slices, and arrays. Every element of a slice must have the same length so
// that the resulting Tensor has a valid shape.
func NewTensor(value any) (*Tensor, error) {
	val := reflect.ValueOf(value)
	dims, dt, err := shapeAndDataTypeOf(val)
	if err != nil {
		return nil, err
	}
	shape := MakeShape(dims...)
	n := shape.NumElements()
	t := &Tensor{dt: dt, shape: shape}
	switch dt {
	case Float, Double:
		t.f64 = make([]float64, 0, n)
	case Int32:
		t.i32 = make([]int32, 0, n)
	case Int64:
		t.i64 = make([]int64, 0, n)
	case Bool:
		t.b = make([]bool, 0, n)
	case String:
		t.s = make([]string, 0, n)
	}
	if err := t.flatten(val, len(dims)); err != nil {
		return nil, err
	}
	if got := t.numStored(); int64(got) != n {
		return nil, fmt.Errorf("ragged value: shape %v implies %d elements, found %d", shape, n, got)
	}
	return t, nil
}

func (t *Tensor) flatten(val reflect.Value, depth int) error {
	if depth == 0 {
		switch t.dt {
		case Float:
			t.f64 = append(t.f64, float64(val.Interface().(float32)))
		case Double:
			t.f64 = append(t.f64, val.Interface().(float64))
		case Int32:
			t.i32 = append(t.i32, val.Interface().(int32))
		case Int64:
			t.i64 = append(t.i64, val.Interface().(int64))
		case Bool:
			t.b = append(t.b, val.Interface().(bool))
		case String:
			t.s = append(t.s, val.Interface().(string))
		}
		return nil
	}
	want := int(t.shape.Size(t.shape.NumDimensions() - depth))
	if val.Len() != want {
		return fmt.Errorf("mismatched slice lengths: %d and %d", val.Len(), want)
	}
	for i := 0; i < val.Len(); i++ {
		if err := t.flatten(val.Index(i), depth-1); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tensor) numStored() int {
	switch t.dt {
	case Float, Double:
		return len(t.f64)
	case Int32:
		return len(t.i32)
	case Int64:
		return len(t.i64)
	case Bool:
		return len(t.b)
	case String:
		return len(t.s)
	}
	return 0
}

// NewTensorValue builds a tensor directly from a data type, shape and flat
// float64 contents. It is the constructor kernels use; dt must be Float or
// Double.
func NewTensorValue(dt DataType, shape Shape, flat []float64) (*Tensor, error) {
	if dt != Float && dt != Double {
		return nil, fmt.Errorf("NewTensorValue supports float tensors, got %v", dt)
	}
	if n := shape.NumElements(); n != int64(len(flat)) {
		return nil, fmt.Errorf("shape %v implies %d elements, got %d", shape, n, len(flat))
	}
	return &Tensor{dt: dt, shape: shape, f64: flat}, nil
}

// Zeros returns a tensor of the given type and shape with all elements set to
// the zero value of the element type.
func Zeros(dt DataType, shape Shape) *Tensor {
	n := shape.NumElements()
	t := &Tensor{dt: dt, shape: shape}
	switch dt {
	case Float, Double:
		t.f64 = make([]float64, n)
	case Int32:
		t.i32 = make([]int32, n)
	case Int64:
		t.i64 = make([]int64, n)
	case Bool:
		t.b = make([]bool, n)
	case String:
		t.s = make([]string, n)
	}
	return t
}

// Fill returns a Double tensor of the given shape with every element set to v.
func Fill(shape Shape, v float64) *Tensor {
	flat := make([]float64, shape.NumElements())
	for i := range flat {
		flat[i] = v
	}
	return &Tensor{dt: Double, shape: shape, f64: flat}
}

// Scalar returns a Double scalar tensor holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{dt: Double, shape: ScalarShape(), f64: []float64{v}}
}

// DataType returns the scalar datatype of the Tensor.
func (t *Tensor) DataType() DataType { return t.dt }

// Shape returns the shape of the Tensor.
func (t *Tensor) Shape() Shape { return t.shape }

// NumElements returns the number of elements held by the Tensor.
func (t *Tensor) NumElements() int { return t.numStored() }

// Float64s returns the flat contents of a Float or Double tensor. The
// returned slice is shared with the tensor and must not be modified.
func (t *Tensor) Float64s() ([]float64, error) {
	if t.dt != Float && t.dt != Double {
		return nil, fmt.Errorf("tensor holds %v values, not floats", t.dt)
	}
	return t.f64, nil
}

// Float64 returns the value of a scalar float tensor.
func (t *Tensor) Float64() (float64, error) {
	if t.shape.NumDimensions() != 0 {
		return 0, fmt.Errorf("tensor of shape %v is not a scalar", t.shape)
	}
	flat, err := t.Float64s()
	if err != nil {
		return 0, err
	}
	return flat[0], nil
}

// Value converts the Tensor to a Go value.
func (t *Tensor) Value() any {
	dims, _ := t.shape.ToSlice()
	if len(dims) == 0 {
		return t.scalarAt(0)
	}
	typ := typeForDataType(t.dt)
	for i := 0; i < len(dims); i++ {
		typ = reflect.SliceOf(typ)
	}
	val := reflect.New(typ).Elem()
	idx := 0
	t.unflatten(val, dims, &idx)
	return val.Interface()
}

func (t *Tensor) unflatten(val reflect.Value, dims []int64, idx *int) {
	if len(dims) == 0 {
		val.Set(reflect.ValueOf(t.scalarAt(*idx)))
		*idx++
		return
	}
	n := int(dims[0])
	slice := reflect.MakeSlice(val.Type(), n, n)
	for i := 0; i < n; i++ {
		t.unflatten(slice.Index(i), dims[1:], idx)
	}
	val.Set(slice)
}

func (t *Tensor) scalarAt(i int) any {
	switch t.dt {
	case Float:
		return float32(t.f64[i])
	case Double:
		return t.f64[i]
	case Int32:
		return t.i32[i]
	case Int64:
		return t.i64[i]
	case Bool:
		return t.b[i]
	case String:
		return t.s[i]
	}
	return nil
}

// AsDouble returns t if it is already a Double tensor, or a Double copy when
// t holds Float, Int32 or Int64 values.
func (t *Tensor) AsDouble() (*Tensor, error) {
	switch t.dt {
	case Double:
		return t, nil
	case Float:
		return &Tensor{dt: Double, shape: t.shape, f64: t.f64}, nil
	case Int32:
		flat := make([]float64, len(t.i32))
		for i, v := range t.i32 {
			flat[i] = float64(v)
		}
		return &Tensor{dt: Double, shape: t.shape, f64: flat}, nil
	case Int64:
		flat := make([]float64, len(t.i64))
		for i, v := range t.i64 {
			flat[i] = float64(v)
		}
		return &Tensor{dt: Double, shape: t.shape, f64: flat}, nil
	}
	return nil, fmt.Errorf("cannot convert %v tensor to double", t.dt)
}

// shapeAndDataTypeOf returns the data type and shape of the Tensor
// corresponding to a Go type.
func shapeAndDataTypeOf(val reflect.Value) (shape []int64, dt DataType, err error) {
	if !val.IsValid() {
		return nil, dt, fmt.Errorf("cannot build a tensor from an untyped nil value")
	}
	typ := val.Type()
	for typ.Kind() == reflect.Array || typ.Kind() == reflect.Slice {
		shape = append(shape, int64(val.Len()))
		// If slice elements are slices, verify that all of them have the same size.
		// Go's type system makes that guarantee for arrays.
		if val.Len() > 0 {
			if val.Type().Elem().Kind() == reflect.Slice {
				expected := val.Index(0).Len()
				for i := 1; i < val.Len(); i++ {
					if val.Index(i).Len() != expected {
						return shape, dt, fmt.Errorf("mismatched slice lengths: %d and %d", val.Index(i).Len(), expected)
					}
				}
			}
			val = val.Index(0)
		}
		typ = typ.Elem()
	}
	for _, t := range types {
		if typ.Kind() == t.typ.Kind() {
			return shape, t.dataType, nil
		}
	}
	return shape, dt, fmt.Errorf("unsupported type %v", typ)
}

func typeForDataType(dt DataType) reflect.Type {
	for _, t := range types {
		if dt == t.dataType {
			return t.typ
		}
	}
	panic(fmt.Sprintf("DataType %v is not supported", dt))
}

// TypeOf converts from a DataType and Shape to the equivalent Go type.
func TypeOf(dt DataType, shape Shape) reflect.Type {
	ret := typeForDataType(dt)
	for i := 0; i < shape.NumDimensions(); i++ {
		ret = reflect.SliceOf(ret)
	}
	return ret
}
