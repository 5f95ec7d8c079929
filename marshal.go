package xtable

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var errMissingAttribute = errors.New("missing attribute")

// RowToObject builds a new prototype value from one row.
//
// Columns are renamed through fieldMap (column -> attribute) and matched to
// struct fields with the usual rules: `db` tag first, otherwise the field name,
// case-insensitively. Columns without a matching attribute are ignored, and a
// NULL leaves its field at the zero value. The result is a pointer to a new
// value of the prototype type.
func RowToObject(values []any, columns []string, proto reflect.Type, fieldMap map[string]string) (any, error) {
	rt, err := prototypeType(proto)
	if err != nil {
		return nil, err
	}
	if len(values) != len(columns) {
		return nil, &MappingError{Type: rt.String(), Err: fmt.Errorf("%d values for %d columns", len(values), len(columns))}
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = normalizeColAscii(attributeOf(c, fieldMap))
	}
	pl, err := getMapper().getPlan(rt, names, columnHash(names))
	if err != nil {
		return nil, &MappingError{Type: rt.String(), Err: err}
	}

	rv := reflect.New(rt)
	for i, st := range pl.steps {
		if st.kind == stepDrop {
			continue
		}
		if err := assignValue(fieldByPathAlloc(rv.Elem(), st.fpath), values[i]); err != nil {
			return nil, &MappingError{Type: rt.String(), Field: columns[i], Err: err}
		}
	}
	return rv.Interface(), nil
}

// ObjectToRow reads the attribute behind each column off obj and returns the
// values aligned with columns. obj may be a struct, a pointer to a struct, a
// Record or a map[string]any.
func ObjectToRow(obj any, columns []string, fieldMap map[string]string) ([]any, error) {
	out := make([]any, len(columns))
	for i, c := range columns {
		v, err := attributeValue(obj, attributeOf(c, fieldMap))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// UpdateObject copies data into the struct pointed to by dst, renaming keys
// through fieldMap. Keys without a matching attribute are ignored.
func UpdateObject(dst any, data map[string]any, fieldMap map[string]string) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || !isStruct(rv.Type()) {
		return &MappingError{Type: fmt.Sprintf("%T", dst), Err: errors.New("destination must be a non-nil pointer to a struct")}
	}
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	idx := getMapper().structIndex(rv.Type())
	for k, v := range data {
		attr := attributeOf(k, fieldMap)
		fp, ok := idx.byName[toLowerAscii(attr)]
		if !ok {
			continue
		}
		if err := assignValue(fieldByPathAlloc(rv, fp), v); err != nil {
			return &MappingError{Type: rv.Type().String(), Field: attr, Err: err}
		}
	}
	return nil
}

// ToObject returns a new prototype value filled from data.
func ToObject(proto any, data map[string]any, fieldMap map[string]string) (any, error) {
	rt, err := prototypeType(reflect.TypeOf(proto))
	if err != nil {
		return nil, err
	}
	obj := reflect.New(rt).Interface()
	if err := UpdateObject(obj, data, fieldMap); err != nil {
		return nil, err
	}
	return obj, nil
}

// prototypeType resolves the struct type a prototype stands for.
func prototypeType(proto reflect.Type) (reflect.Type, error) {
	if proto == nil {
		return nil, &MappingError{Err: errors.New("no prototype")}
	}
	rt := derefPtr(proto)
	if !isStruct(rt) {
		return nil, &MappingError{Type: proto.String(), Err: errors.New("prototype cannot be constructed: not a struct")}
	}
	return rt, nil
}

func attributeOf(column string, fieldMap map[string]string) string {
	if attr, ok := fieldMap[column]; ok {
		return attr
	}
	for c, attr := range fieldMap {
		if strings.EqualFold(c, column) {
			return attr
		}
	}
	return column
}

// attributeValue reads one attribute off obj.
func attributeValue(obj any, attr string) (any, error) {
	switch o := obj.(type) {
	case nil:
		return nil, &MappingError{Field: attr, Err: errors.New("nil object")}
	case Record:
		if v, ok := o.Get(attr); ok {
			return v, nil
		}
		return nil, &MappingError{Type: "Record", Field: attr, Err: errMissingAttribute}
	case *Record:
		return attributeValue(*o, attr)
	case map[string]any:
		if v, ok := o[attr]; ok {
			return v, nil
		}
		for k, v := range o {
			if strings.EqualFold(k, attr) {
				return v, nil
			}
		}
		return nil, &MappingError{Type: "map", Field: attr, Err: errMissingAttribute}
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, &MappingError{Type: rv.Type().String(), Field: attr, Err: errors.New("nil object")}
		}
		rv = rv.Elem()
	}
	if !isStruct(rv.Type()) {
		return nil, &MappingError{Type: rv.Type().String(), Field: attr, Err: errors.New("object is not a struct")}
	}
	fp, ok := getMapper().structIndex(rv.Type()).byName[toLowerAscii(attr)]
	if !ok {
		return nil, &MappingError{Type: rv.Type().String(), Field: attr, Err: errMissingAttribute}
	}
	fv, ok := fieldByPath(rv, fp)
	if !ok {
		return nil, nil
	}
	return fv.Interface(), nil
}

// attributeIsSet reports whether attr holds a non-zero value on obj.
func attributeIsSet(obj any, attr string) (bool, error) {
	v, err := attributeValue(obj, attr)
	if err != nil {
		return false, err
	}
	return !isZeroValue(v), nil
}

// isZeroValue reports whether v is nil, a nil pointer, or the zero value of
// its type (or of the type it points to).
func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	return rv.IsZero()
}
