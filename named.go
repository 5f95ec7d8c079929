package xtable

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects how anonymous parameters reach SQLite.
type Placeholder int

const (
	// PlaceholderQuestion sends "?" as written.
	PlaceholderQuestion Placeholder = iota
	// PlaceholderNumbered numbers them "?1, ?2, ..." so a logged statement
	// shows which argument lands where. A "?NNN" already present keeps its
	// number and the count continues after it, as SQLite does.
	PlaceholderNumbered
)

// Named binding errors. Sessions return them wrapped in a *QueryError.
var (
	// ErrNilParams is returned for a nil struct pointer or map.
	ErrNilParams = errors.New("xtable: named bind: nil params")

	// ErrUnsupportedArg is returned when params is not a struct or a
	// map with string keys.
	ErrUnsupportedArg = errors.New("xtable: named bind: params must be struct or map[string]any")

	// ErrMissingParam is returned when a name in the statement has no value.
	ErrMissingParam = errors.New("xtable: named bind: missing value")
)

// Rebind resolves named parameters and applies the placeholder style ph.
//
// Named binding applies when params is exactly one struct or map[string]any
// and the statement names at least one parameter as :name, @name or $name,
// the three forms SQLite accepts:
//
//	q, args, err := Rebind(
//	    `SELECT * FROM person WHERE age > :age AND ID IN (:ids)`,
//	    PlaceholderQuestion,
//	    map[string]any{"age": 25, "ids": []int{1, 2, 3}},
//	)
//	// q    => SELECT * FROM person WHERE age > ? AND ID IN (?,?,?)
//	// args => [25, 1, 2, 3]
//
// Names match map keys and struct fields case-insensitively; struct fields
// resolve the way rows map onto them (db tag, then field name, embedded
// structs flattened). Slices and arrays expand, []byte stays scalar and an
// empty slice becomes NULL. Other params are positional. String literals,
// quoted identifiers and comments are never rewritten.
func Rebind(query string, ph Placeholder, params ...any) (string, []any, error) {
	if len(params) == 1 && looksBindable(params[0]) {
		toks, err := findNamedParams(query)
		if err != nil {
			return "", nil, err
		}
		if len(toks) > 0 {
			q, args, err := bindNamedParams(query, toks, params[0])
			if err != nil {
				return "", nil, err
			}
			query, params = q, args
		}
	}
	if ph == PlaceholderNumbered {
		q, err := numberPlaceholders(query)
		if err != nil {
			return "", nil, err
		}
		query = q
	}
	return query, params, nil
}

// nameToken is one named parameter: query[start:end] is the prefix plus
// name.
type nameToken struct {
	name       string
	start, end int
}

// looksBindable reports whether v can supply named parameters. Values the
// driver binds directly (time.Time, driver.Valuer) never do.
func looksBindable(v any) bool {
	switch v.(type) {
	case nil, time.Time, *time.Time, driver.Valuer:
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		return rv.Type().Key().Kind() == reflect.String
	}
	return rv.Kind() == reflect.Struct
}

// walkSQL calls fn at every offset of query outside literals, quoted
// identifiers and comments. fn returns the offset to continue from.
func walkSQL(query string, fn func(i int) int) error {
	for i := 0; i < len(query); {
		end, err := skipInert(query, i)
		if err != nil {
			return err
		}
		if end > i {
			i = end
			continue
		}
		i = fn(i)
	}
	return nil
}

// skipInert returns the end of the literal, quoted identifier or comment
// starting at i, or i when none starts there.
func skipInert(s string, i int) (int, error) {
	switch c := s[i]; {
	case c == '\'' || c == '"' || c == '`':
		return closeQuote(s, i, c)
	case c == '[':
		end := strings.IndexByte(s[i+1:], ']')
		if end < 0 {
			return 0, fmt.Errorf("xtable: unterminated [ identifier at offset %d", i)
		}
		return i + 1 + end + 1, nil
	case strings.HasPrefix(s[i:], "--"):
		if end := strings.IndexByte(s[i:], '\n'); end >= 0 {
			return i + end + 1, nil
		}
		return len(s), nil
	case strings.HasPrefix(s[i:], "/*"):
		end := strings.Index(s[i+2:], "*/")
		if end < 0 {
			return 0, fmt.Errorf("xtable: unterminated block comment at offset %d", i)
		}
		return i + 2 + end + 2, nil
	}
	return i, nil
}

// closeQuote finds the quote closing the one at i. A doubled quote is an
// escaped one.
func closeQuote(s string, i int, q byte) (int, error) {
	j := i + 1
	for {
		k := strings.IndexByte(s[j:], q)
		if k < 0 {
			return 0, fmt.Errorf("xtable: unterminated %c quote at offset %d", q, i)
		}
		j += k + 1
		if j < len(s) && s[j] == q {
			j++
			continue
		}
		return j, nil
	}
}

func findNamedParams(query string) ([]nameToken, error) {
	var out []nameToken
	err := walkSQL(query, func(i int) int {
		switch query[i] {
		case ':', '@', '$':
			if name, end := parseName(query, i+1); name != "" {
				out = append(out, nameToken{name: name, start: i, end: end})
				return end
			}
		}
		return i + 1
	})
	return out, err
}

// parseName reads a parameter name at i: a letter or underscore, then
// letters, digits and underscores.
func parseName(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if r != '_' && !unicode.IsLetter(r) && (i == start || !unicode.IsDigit(r)) {
			break
		}
		i += w
	}
	return s[start:i], i
}

func bindNamedParams(query string, toks []nameToken, params any) (string, []any, error) {
	lookup, err := buildParamLookup(params)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.Grow(len(query))
	args := make([]any, 0, len(toks))
	last := 0
	for _, t := range toks {
		b.WriteString(query[last:t.start])
		last = t.end

		val, ok := lookup[toLowerAscii(t.name)]
		if !ok {
			return "", nil, fmt.Errorf("%w for %s", ErrMissingParam, query[t.start:t.end])
		}
		rv := reflect.ValueOf(val)
		if !isSliceOrArray(rv) {
			b.WriteByte('?')
			args = append(args, val)
			continue
		}
		if rv.Len() == 0 {
			b.WriteString("NULL")
			continue
		}
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('?')
			args = append(args, rv.Index(i).Interface())
		}
	}
	b.WriteString(query[last:])
	return b.String(), args, nil
}

// numberPlaceholders rewrites each bare "?" to "?N".
func numberPlaceholders(query string) (string, error) {
	var b strings.Builder
	b.Grow(len(query) + 8)
	next, last := 1, 0
	err := walkSQL(query, func(i int) int {
		if query[i] != '?' {
			return i + 1
		}
		end := i + 1
		for end < len(query) && '0' <= query[end] && query[end] <= '9' {
			end++
		}
		if end > i+1 {
			if n, err := strconv.Atoi(query[i+1 : end]); err == nil && n >= next {
				next = n + 1
			}
			return end
		}
		b.WriteString(query[last:end])
		b.WriteString(strconv.Itoa(next))
		next++
		last = end
		return end
	})
	if err != nil {
		return "", err
	}
	b.WriteString(query[last:])
	return b.String(), nil
}

// buildParamLookup flattens params into name -> value, names lower-cased.
func buildParamLookup(params any) (map[string]any, error) {
	if params == nil {
		return nil, ErrNilParams
	}
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[toLowerAscii(iter.Key().String())] = iter.Value().Interface()
		}
		return m, nil
	case reflect.Struct:
		idx := getMapper().structIndex(rv.Type())
		m := make(map[string]any, len(idx.byName))
		for name, path := range idx.byName {
			fv, ok := fieldByPath(rv, path)
			if !ok || !fv.CanInterface() {
				continue
			}
			m[name] = fv.Interface()
		}
		return m, nil
	}
	return nil, ErrUnsupportedArg
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}
