package xtable

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
	"time"
)

// Mapper caches scan plans per (type, column set) and field indexes per type.
// The package uses one lazily created Mapper; tests may build their own.
type Mapper struct {
	planCache        sync.Map // planKey -> *plan
	structIndexCache sync.Map // reflect.Type -> *fieldIndex
}

// NewMapper returns a Mapper with empty caches.
func NewMapper() *Mapper { return &Mapper{} }

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// scanWithMapper scans the current row of rows into a new T.
func scanWithMapper[T any](m *Mapper, rows *sql.Rows) (T, error) {
	var zero T

	cols, err := rows.Columns()
	if err != nil {
		return zero, err
	}
	if len(cols) == 0 {
		return zero, fmt.Errorf("xtable: query returned zero columns")
	}
	for i := range cols {
		cols[i] = normalizeColAscii(cols[i])
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()
	pl, err := m.getPlan(rt, cols, columnHash(cols))
	if err != nil {
		return zero, err
	}

	rv := reflect.New(rt)
	dests, finish, err := pl.destPtrs(rv)
	if err != nil {
		return zero, err
	}
	if err := rows.Scan(dests...); err != nil {
		return zero, err
	}
	if err := finish(); err != nil {
		return zero, err
	}
	return rv.Elem().Interface().(T), nil
}

// columnHash is FNV-1a over normalized column names, NUL separated.
func columnHash(cols []string) uint64 {
	h := fnv.New64a()
	for _, c := range cols {
		_, _ = h.Write([]byte(c))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

type planKey struct {
	rt    reflect.Type
	hash  uint64
	ncols int
}

type plan struct {
	rt       reflect.Type
	steps    []step // one per column
	isStruct bool
	isScan   bool // *T implements sql.Scanner
}

type stepKind uint8

const (
	stepDrop     stepKind = iota // column has no destination
	stepDirect                   // scan straight into the field or *T
	stepIndirect                 // scan into a temporary, convert afterwards
	stepWhole                    // *T is a sql.Scanner fed by the only column
)

type step struct {
	kind   stepKind
	fpath  []int
	convTo reflect.Type
	post   func(dst, src reflect.Value) error
}

func (m *Mapper) getPlan(rt reflect.Type, cols []string, colHash uint64) (*plan, error) {
	key := planKey{rt: rt, hash: colHash, ncols: len(cols)}
	if v, ok := m.planCache.Load(key); ok {
		return v.(*plan), nil
	}

	p := &plan{
		rt:       rt,
		isStruct: isStruct(rt),
		isScan:   implementsScanner(rt),
	}

	switch {
	case p.isStruct:
		idx := m.structIndex(rt)
		p.steps = make([]step, len(cols))
		for i, c := range cols {
			fp, ok := idx.byName[c]
			if !ok {
				p.steps[i] = step{kind: stepDrop}
				continue
			}
			p.steps[i] = makeStep(fieldTypeByPath(rt, fp), fp)
		}
	case p.isScan:
		if len(cols) != 1 {
			return nil, fmt.Errorf("xtable: scanning %s requires exactly 1 column; got %d", rt, len(cols))
		}
		p.steps = []step{{kind: stepWhole}}
	default:
		if len(cols) != 1 {
			return nil, fmt.Errorf("xtable: cannot map %d columns into %s; use a struct", len(cols), rt)
		}
		p.steps = []step{makeStep(rt, nil)}
	}

	m.planCache.Store(key, p)
	return p, nil
}

// fieldIndex maps lower-case attribute names to struct field index paths.
type fieldIndex struct {
	byName map[string][]int
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	m.structIndexCache.Store(rt, &fi)
	return &fi
}

// destPtrs allocates one scan destination per step. The returned finish
// function moves temporaries into their fields once the scan is done.
func (p *plan) destPtrs(rv reflect.Value) ([]any, func() error, error) {
	noop := func() error { return nil }

	if !p.isStruct {
		st := p.steps[0]
		switch st.kind {
		case stepWhole, stepDirect:
			return []any{rv.Interface()}, noop, nil
		case stepIndirect:
			tmp := reflect.New(st.convTo).Elem()
			return []any{tmp.Addr().Interface()}, func() error {
				return st.post(rv.Elem(), tmp)
			}, nil
		}
		var sink sql.RawBytes
		return []any{&sink}, noop, nil
	}

	root := rv.Elem()
	dests := make([]any, len(p.steps))
	var finals []func() error
	var sink sql.RawBytes // shared by every dropped column

	for i, st := range p.steps {
		switch st.kind {
		case stepDirect:
			dests[i] = fieldByPathAlloc(root, st.fpath).Addr().Interface()
		case stepIndirect:
			tmp := reflect.New(st.convTo).Elem()
			fp, post := st.fpath, st.post
			dests[i] = tmp.Addr().Interface()
			finals = append(finals, func() error {
				return post(fieldByPathAlloc(root, fp), tmp)
			})
		default:
			dests[i] = &sink
		}
	}
	if len(finals) == 0 {
		return dests, noop, nil
	}
	return dests, func() error {
		for _, f := range finals {
			if err := f(); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// buildStructIndex walks exported fields, flattening anonymous structs and
// `db:",inline"` fields. The first occurrence of a name wins.
func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(sf.Type) {
					walk(sf.Type, path, inline)
					continue
				}
			}
			if sf.PkgPath != "" {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := idx.byName[lc]; !ok {
				idx.byName[lc] = path
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

// parseTag accepts "-", "col", ",inline", "col,inline" and "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// makeStep picks the scan strategy for a destination of type t: the type's own
// Scanner, then a safe temporary conversion, then a direct scan.
func makeStep(t reflect.Type, fpath []int) step {
	if implementsScanner(t) {
		return step{kind: stepDirect, fpath: fpath}
	}
	if convTo, post, ok := pickIndirect(t); ok {
		return step{kind: stepIndirect, fpath: fpath, convTo: convTo, post: post}
	}
	return step{kind: stepDirect, fpath: fpath}
}

func isStruct(t reflect.Type) bool {
	t = derefPtr(t)
	return t.Kind() == reflect.Struct && t != timeType
}

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

var (
	scannerType  = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType     = reflect.TypeOf(time.Time{})
	rawBytesType = reflect.TypeOf(sql.RawBytes{})
)

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

func isDirectlyScannable(t reflect.Type) bool {
	t = derefPtr(t)
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return t == timeType || t == rawBytesType
}

// pickIndirect returns a temporary scan type and the conversion that moves
// it into dstType. It covers []byte -> builtin string, widening into builtin
// numerics, named primitive types, and named pointers to primitives.
func pickIndirect(dstType reflect.Type) (reflect.Type, func(dst, src reflect.Value) error, bool) {
	base := derefPtr(dstType)

	if base == reflect.TypeOf("") && dstType.Kind() != reflect.Ptr {
		return reflect.TypeOf([]byte(nil)), func(dst, src reflect.Value) error {
			if src.IsNil() {
				dst.SetString("")
				return nil
			}
			dst.SetString(string(src.Bytes()))
			return nil
		}, true
	}

	if dstType == base {
		switch base.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.TypeOf(int64(0)), func(dst, src reflect.Value) error {
				dst.SetInt(src.Int())
				return nil
			}, true
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return reflect.TypeOf(uint64(0)), func(dst, src reflect.Value) error {
				dst.SetUint(src.Uint())
				return nil
			}, true
		case reflect.Float32, reflect.Float64:
			return reflect.TypeOf(float64(0)), func(dst, src reflect.Value) error {
				dst.SetFloat(src.Float())
				return nil
			}, true
		}
	}

	// Named types, possibly behind pointer layers that must be rebuilt.
	under := dstType
	ptrCount := 0
	for under.Kind() == reflect.Ptr {
		under = under.Elem()
		ptrCount++
	}

	var tmp reflect.Type
	var set func(val, src reflect.Value)
	switch under.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		tmp, set = reflect.TypeOf(int64(0)), func(val, src reflect.Value) { val.SetInt(src.Int()) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		tmp, set = reflect.TypeOf(uint64(0)), func(val, src reflect.Value) { val.SetUint(src.Uint()) }
	case reflect.Float32, reflect.Float64:
		tmp, set = reflect.TypeOf(float64(0)), func(val, src reflect.Value) { val.SetFloat(src.Float()) }
	case reflect.String:
		tmp, set = reflect.TypeOf(""), func(val, src reflect.Value) { val.SetString(src.String()) }
	default:
		return nil, nil, false
	}
	return tmp, func(dst, src reflect.Value) error {
		val := reflect.New(under).Elem()
		set(val, src)
		return assignWithPointers(dst, val, dstType, ptrCount)
	}, true
}

// assignWithPointers stores val into dst after re-applying ptrCount pointer
// layers and converting to dt.
func assignWithPointers(dst, val reflect.Value, dt reflect.Type, ptrCount int) error {
	if ptrCount <= 0 {
		dst.Set(val.Convert(dt))
		return nil
	}
	cur := val.Addr()
	for i := 1; i < ptrCount; i++ {
		tmp := reflect.New(cur.Type())
		tmp.Elem().Set(cur)
		cur = tmp
	}
	dst.Set(cur.Convert(dt))
	return nil
}

func fieldTypeByPath(root reflect.Type, fpath []int) reflect.Type {
	t := root
	for _, i := range fpath {
		t = derefPtr(t).Field(i).Type
	}
	return t
}

// fieldByPathAlloc walks fpath allocating nil pointers, so the final field is
// addressable and non-nil.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	if v.Kind() == reflect.Ptr && v.IsNil() {
		v.Set(reflect.New(v.Type().Elem()))
	}
	return v
}

// fieldByPath walks fpath without allocating. ok is false when a nil pointer
// sits on the path.
func fieldByPath(root reflect.Value, fpath []int) (reflect.Value, bool) {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

// normalizeColAscii strips one layer of "..", `..` or [..] quoting and
// lower-cases ASCII letters.
func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch {
		case s[0] == '"' && s[l-1] == '"',
			s[0] == '`' && s[l-1] == '`',
			s[0] == '[' && s[l-1] == ']':
			s = s[1 : l-1]
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	i := 0
	for i < len(s) && !('A' <= s[i] && s[i] <= 'Z') {
		i++
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if c := b[i]; 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
