package xtable

import (
	"strconv"
	"strings"
)

// The Build* functions assemble statement text only. Values are never
// interpolated: every "?" in the result is bound positionally by the caller.
// WHERE and ORDER BY fragments are copied verbatim and are the caller's
// responsibility.

// BuildSelect returns
//
//	SELECT <columns|*> FROM <table> [WHERE where] [ORDER BY orderBy] [LIMIT limit]
//
// An empty column list selects "*". A non-positive limit omits LIMIT.
func BuildSelect(table string, columns []string, where, orderBy string, limit int) (string, error) {
	if table == "" {
		return "", schemaErr("", "empty table name")
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(columns) > 0 {
		b.WriteString(strings.Join(columns, ","))
	} else {
		b.WriteByte('*')
	}
	b.WriteString(" FROM ")
	b.WriteString(table)
	appendClause(&b, " WHERE ", where)
	appendClause(&b, " ORDER BY ", orderBy)
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String(), nil
}

// BuildInsert returns an INSERT with exactly valueCount placeholders.
//
// When valueCount is smaller than len(columns) only the trailing valueCount
// columns are named, so partial rows bind to the rightmost declared columns.
// With no columns the statement omits the column list.
func BuildInsert(table string, columns []string, valueCount int) (string, error) {
	if table == "" {
		return "", schemaErr("", "empty table name")
	}
	if valueCount <= 0 {
		return "", schemaErr(table, "insert needs at least one value")
	}
	if len(columns) > 0 && valueCount > len(columns) {
		return "", schemaErr(table, "%d values for %d columns", valueCount, len(columns))
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	if len(columns) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(columns[len(columns)-valueCount:], ","))
		b.WriteByte(')')
	}
	b.WriteString(" VALUES (")
	writePlaceholders(&b, valueCount)
	b.WriteByte(')')
	return b.String(), nil
}

// BuildUpdate returns UPDATE <table> SET c1=?, c2=? [WHERE where].
func BuildUpdate(table string, columns []string, where string) (string, error) {
	if table == "" {
		return "", schemaErr("", "empty table name")
	}
	if len(columns) == 0 {
		return "", schemaErr(table, "update needs at least one column")
	}
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = c + "=?"
	}
	return BuildUpdateExpr(table, strings.Join(sets, ", "), where)
}

// BuildUpdateExpr returns UPDATE <table> SET <setExpr> [WHERE where] with a
// caller-written SET expression such as "age = age + 1".
func BuildUpdateExpr(table, setExpr, where string) (string, error) {
	if table == "" {
		return "", schemaErr("", "empty table name")
	}
	if strings.TrimSpace(setExpr) == "" {
		return "", schemaErr(table, "empty SET expression")
	}
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(table)
	b.WriteString(" SET ")
	b.WriteString(setExpr)
	appendClause(&b, " WHERE ", where)
	return b.String(), nil
}

// BuildDelete returns DELETE FROM <table> [WHERE where].
func BuildDelete(table, where string) (string, error) {
	if table == "" {
		return "", schemaErr("", "empty table name")
	}
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(table)
	appendClause(&b, " WHERE ", where)
	return b.String(), nil
}

// identityWhere returns "c1=? AND c2=?".
func identityWhere(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + "=?"
	}
	return strings.Join(parts, " AND ")
}

func appendClause(b *strings.Builder, keyword, clause string) {
	if strings.TrimSpace(clause) == "" {
		return
	}
	b.WriteString(keyword)
	b.WriteString(clause)
}

func writePlaceholders(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
}
