package xtable

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func scanOne[T any](t *testing.T, m *Mapper, db *sql.DB) T {
	t.Helper()
	rows, err := db.QueryContext(context.Background(), "SELECT")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		t.Fatalf("no row: %v", rows.Err())
	}
	v, err := scanWithMapper[T](m, rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return v
}

func planFor(t *testing.T, m *Mapper, v any, cols ...string) *plan {
	t.Helper()
	pl, err := m.getPlan(reflect.TypeOf(v), cols, columnHash(cols))
	if err != nil {
		t.Fatalf("getPlan: %v", err)
	}
	return pl
}

func TestNormalizeColAscii(t *testing.T) {
	cases := map[string]string{
		`"Name"`:  "name",
		"`Age`":   "age",
		"[ID]":    "id",
		"born_on": "born_on",
		"MiXeD_1": "mixed_1",
		`"open`:   `"open`,
		"x":       "x",
	}
	for in, want := range cases {
		if got := normalizeColAscii(in); got != want {
			t.Errorf("normalizeColAscii(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTag(t *testing.T) {
	cases := []struct {
		tag          string
		name         string
		inline, omit bool
	}{
		{"", "", false, false},
		{"-", "", false, true},
		{"age", "age", false, false},
		{",inline", "", true, false},
		{"addr,inline", "addr", true, false},
		{"inline,addr", "addr", true, false},
	}
	for _, tc := range cases {
		name, inline, omit := parseTag(tc.tag)
		if name != tc.name || inline != tc.inline || omit != tc.omit {
			t.Errorf("parseTag(%q) = (%q,%v,%v)", tc.tag, name, inline, omit)
		}
	}
}

func TestBuildStructIndex(t *testing.T) {
	type audit struct {
		Created string `db:"created"`
	}
	type row struct {
		ID    int `db:"ID"`
		audit
		Notes string `db:"-"`
		Name  string
		secret int
	}
	_ = row{secret: 1}

	fi := buildStructIndex(reflect.TypeOf(row{}))
	for _, name := range []string{"id", "created", "name"} {
		if _, ok := fi.byName[name]; !ok {
			t.Errorf("%s missing from index", name)
		}
	}
	for _, name := range []string{"notes", "secret"} {
		if _, ok := fi.byName[name]; ok {
			t.Errorf("%s should not be indexed", name)
		}
	}
}

func TestMapper_CachesIndexAndPlans(t *testing.T) {
	m := NewMapper()
	rt := reflect.TypeOf(person{})
	if m.structIndex(rt) != m.structIndex(rt) {
		t.Fatal("struct index not cached")
	}
	if planFor(t, m, person{}, "id", "name") != planFor(t, m, person{}, "id", "name") {
		t.Fatal("plan not cached")
	}
	if planFor(t, m, person{}, "id", "name") == planFor(t, m, person{}, "name", "id") {
		t.Fatal("column order must key the plan")
	}
}

type email string

func (e *email) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*e = email(v)
	case string:
		*e = email(v)
	default:
		return fmt.Errorf("email: %T", src)
	}
	return nil
}

func TestTypeHelpers(t *testing.T) {
	if !isStruct(reflect.TypeOf(&person{})) {
		t.Error("*person should count as a struct")
	}
	if isStruct(reflect.TypeOf(time.Time{})) {
		t.Error("time.Time must not count as a struct")
	}
	if derefPtr(reflect.TypeOf(&person{})) != reflect.TypeOf(person{}) {
		t.Error("derefPtr")
	}
	if !implementsScanner(reflect.TypeOf(email(""))) {
		t.Error("email implements sql.Scanner")
	}
	for _, v := range []any{time.Now(), sql.RawBytes{}, []byte{}, "", int8(0)} {
		if !isDirectlyScannable(reflect.TypeOf(v)) {
			t.Errorf("%T should be directly scannable", v)
		}
	}
}

func TestPickIndirect(t *testing.T) {
	type years int16
	type label string
	type score float32
	type count uint8
	type ageRef *int32

	cases := []struct {
		dst  reflect.Type
		tmp  reflect.Kind
		src  any
		want any
	}{
		{reflect.TypeOf(""), reflect.Slice, []byte("Ana"), "Ana"},
		{reflect.TypeOf(int32(0)), reflect.Int64, int64(30), int32(30)},
		{reflect.TypeOf(uint16(0)), reflect.Uint64, uint64(9), uint16(9)},
		{reflect.TypeOf(float32(0)), reflect.Float64, 1.5, float32(1.5)},
		{reflect.TypeOf(years(0)), reflect.Int64, int64(41), years(41)},
		{reflect.TypeOf(label("")), reflect.String, "vip", label("vip")},
		{reflect.TypeOf(score(0)), reflect.Float64, 2.25, score(2.25)},
		{reflect.TypeOf(count(0)), reflect.Uint64, uint64(3), count(3)},
	}
	for _, tc := range cases {
		tmpType, post, ok := pickIndirect(tc.dst)
		if !ok || tmpType.Kind() != tc.tmp {
			t.Errorf("%s: tmp %v ok=%v, want %v", tc.dst, tmpType, ok, tc.tmp)
			continue
		}
		tmp := reflect.New(tmpType).Elem()
		tmp.Set(reflect.ValueOf(tc.src).Convert(tmpType))
		dst := reflect.New(tc.dst).Elem()
		if err := post(dst, tmp); err != nil {
			t.Errorf("%s: post: %v", tc.dst, err)
			continue
		}
		if got := dst.Interface(); got != tc.want {
			t.Errorf("%s: got %#v, want %#v", tc.dst, got, tc.want)
		}
	}

	tmpType, post, ok := pickIndirect(reflect.TypeOf(ageRef(nil)))
	if !ok || tmpType.Kind() != reflect.Int64 {
		t.Fatalf("named *int32: tmp %v ok=%v", tmpType, ok)
	}
	dst := reflect.New(reflect.TypeOf(ageRef(nil))).Elem()
	tmp := reflect.New(tmpType).Elem()
	tmp.SetInt(30)
	if err := post(dst, tmp); err != nil || dst.IsNil() || dst.Elem().Int() != 30 {
		t.Fatalf("named *int32: got %v err %v", dst.Interface(), err)
	}

	if _, _, ok := pickIndirect(reflect.TypeOf(struct{}{})); ok {
		t.Fatal("structs have no indirect conversion")
	}
}

func TestFieldByPathAlloc(t *testing.T) {
	type inner struct{ Age *int }
	type outer struct{ In *inner }
	rv := reflect.New(reflect.TypeOf(outer{})).Elem()

	if _, ok := fieldByPath(rv, []int{0, 0}); ok {
		t.Fatal("fieldByPath must stop at a nil pointer")
	}
	dst := fieldByPathAlloc(rv, []int{0, 0})
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		t.Fatal("fieldByPathAlloc did not allocate the path")
	}
	if fieldTypeByPath(reflect.TypeOf(outer{}), []int{0, 0}) != reflect.TypeOf((*int)(nil)) {
		t.Fatal("fieldTypeByPath")
	}
}

func TestScan_StructSteps(t *testing.T) {
	type row struct {
		Name    string       `db:"name"`
		Age     int32        `db:"age"`
		Active  bool         `db:"active"`
		Born    time.Time    `db:"born"`
		Photo   sql.RawBytes `db:"photo"`
		Contact email        `db:"contact"`
	}
	born := time.Date(1994, 5, 1, 0, 0, 0, 0, time.UTC)
	db := openFake(t, fakeStore{query: rowsOf(
		[]string{`"Name"`, "`Age`", "[ACTIVE]", "BORN", "PHOTO", "CONTACT", "unmapped"},
		[]driver.Value{[]byte("Ana"), int64(30), true, born, []byte{1, 2}, []byte("ana@example.org"), "x"},
	)})

	got := scanOne[row](t, NewMapper(), db)
	if got.Name != "Ana" || got.Age != 30 || !got.Active || !got.Born.Equal(born) ||
		string(got.Photo) != "\x01\x02" || got.Contact != "ana@example.org" {
		t.Fatalf("got %+v", got)
	}
}

func TestScan_InlinePointerAllocated(t *testing.T) {
	type address struct {
		City string `db:"city"`
		Zip  string `db:"zip"`
	}
	type row struct {
		ID   int64    `db:"ID"`
		Home *address `db:",inline"`
	}
	db := openFake(t, fakeStore{query: rowsOf(
		[]string{"ID", "city", "zip"},
		[]driver.Value{int64(1), "Lyon", "69001"},
	)})

	got := scanOne[row](t, NewMapper(), db)
	if got.Home == nil || got.Home.City != "Lyon" || got.Home.Zip != "69001" {
		t.Fatalf("got %+v", got)
	}
}

func TestScan_ScannerTypes(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf([]string{"contact"}, []driver.Value{[]byte("bo@example.org")})})
	if got := scanOne[email](t, NewMapper(), db); got != "bo@example.org" {
		t.Fatalf("got %q", got)
	}

	wide := openFake(t, fakeStore{query: rowsOf([]string{"a", "b"}, []driver.Value{"x", "y"})})
	rows, _ := wide.QueryContext(context.Background(), "SELECT")
	defer func() { _ = rows.Close() }()
	rows.Next()
	if _, err := scanWithMapper[email](NewMapper(), rows); err == nil {
		t.Fatal("a Scanner takes exactly one column")
	}
}

func TestScan_ZeroColumns(t *testing.T) {
	db := openFake(t, fakeStore{query: rowsOf([]string{}, []driver.Value{})})
	rows, _ := db.QueryContext(context.Background(), "SELECT")
	defer func() { _ = rows.Close() }()
	rows.Next()
	_, err := scanWithMapper[person](NewMapper(), rows)
	if err == nil || err.Error() != "xtable: query returned zero columns" {
		t.Fatalf("unexpected err: %v", err)
	}
}

type tags []string

func (ts *tags) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), ts)
	case []byte:
		return json.Unmarshal(v, ts)
	}
	return fmt.Errorf("tags: %T", src)
}

func TestScan_JSONColumn(t *testing.T) {
	type row struct {
		Tags tags `db:"tags"`
	}
	db := openFake(t, fakeStore{query: rowsOf([]string{"tags"}, []driver.Value{`["admin","ops"]`})})

	got := scanOne[row](t, NewMapper(), db)
	if len(got.Tags) != 2 || got.Tags[0] != "admin" || got.Tags[1] != "ops" {
		t.Fatalf("got %+v", got.Tags)
	}
}

func TestPlan_StepKinds(t *testing.T) {
	type label string
	type row struct {
		Name   string `db:"name"`
		Age    int32  `db:"age"`
		Active bool   `db:"active"`
		Nick   label  `db:"nick"`
		Extra  any    `db:"extra"`
	}
	pl := planFor(t, NewMapper(), row{}, "name", "age", "active", "nick", "extra", "unmapped")
	want := []stepKind{stepIndirect, stepIndirect, stepDirect, stepIndirect, stepDirect, stepDrop}
	for i, k := range want {
		if pl.steps[i].kind != k {
			t.Errorf("step %d: kind %d, want %d", i, pl.steps[i].kind, k)
		}
	}
}

func TestPlan_ScalarIndirect(t *testing.T) {
	pl := planFor(t, NewMapper(), int32(0), "age")
	if len(pl.steps) != 1 || pl.steps[0].kind != stepIndirect {
		t.Fatalf("int32 <- int64 should be indirect, got %+v", pl.steps)
	}

	rv := reflect.New(reflect.TypeOf(int32(0)))
	dests, finish, err := pl.destPtrs(rv)
	if err != nil || len(dests) != 1 {
		t.Fatalf("destPtrs: %v %d", err, len(dests))
	}
	reflect.ValueOf(dests[0]).Elem().SetInt(41)
	if err := finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if rv.Elem().Int() != 41 {
		t.Fatalf("got %d", rv.Elem().Int())
	}
}

func TestGetMapper_Singleton(t *testing.T) {
	if m := getMapper(); m == nil || m != getMapper() {
		t.Fatal("getMapper should return one shared Mapper")
	}
}
