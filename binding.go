package xtable

import (
	"context"
	"database/sql"
)

// Filter selects rows for Select, Update and Delete. The zero value, All,
// matches every row.
//
//	xtable.Where("age > ?", 25).Order("name").Take(10)
//	xtable.Where("age > :age", map[string]any{"age": 25}).Only("ID", "name")
//
// Where and OrderBy are copied into the statement verbatim.
type Filter struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	// Columns are the columns read by Select or written by Update. Empty
	// means every declared column.
	Columns []string
}

// All matches every row.
var All = Filter{}

// Where returns a filter on expr with its arguments.
func Where(expr string, args ...any) Filter {
	return Filter{Where: expr, Args: args}
}

// Order returns f sorted by the ORDER BY expression by.
func (f Filter) Order(by string) Filter {
	f.OrderBy = by
	return f
}

// Take returns f limited to n rows.
func (f Filter) Take(n int) Filter {
	f.Limit = n
	return f
}

// Only returns f selecting just columns.
func (f Filter) Only(columns ...string) Filter {
	f.Columns = columns
	return f
}

// Binding is a table bound to a session. Every operation builds one
// statement, runs it on the session and, for reads, marshals the rows.
type Binding struct {
	table   *Table
	session *Session
}

// Table returns the bound table.
func (b *Binding) Table() *Table { return b.table }

// Session returns the session statements run on.
func (b *Binding) Session() *Session { return b.session }

func (b *Binding) selectQuery(f Filter) (string, error) {
	d := b.table.load()
	cols := f.Columns
	if len(cols) == 0 {
		cols = d.columns
	}
	return BuildSelect(d.name, cols, f.Where, f.OrderBy, f.Limit)
}

// Iterate calls fn with each matching row, marshaled into the prototype or
// a Record. Returning an error from fn stops the iteration with that error.
func (b *Binding) Iterate(ctx context.Context, f Filter, fn func(obj any) error) error {
	q, err := b.selectQuery(f)
	if err != nil {
		return err
	}
	d := b.table.load()
	return b.session.fetch(ctx, q, f.Args, func(values []any, columns []string) error {
		obj, err := d.toObject(values, columns)
		if err != nil {
			return err
		}
		return fn(obj)
	})
}

// Select returns every matching row. No rows give an empty slice.
func (b *Binding) Select(ctx context.Context, f Filter) ([]any, error) {
	out := []any{}
	err := b.Iterate(ctx, f, func(obj any) error {
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SelectOne returns the first matching row. ok is false when nothing
// matches.
func (b *Binding) SelectOne(ctx context.Context, f Filter) (obj any, ok bool, err error) {
	if f.Limit <= 0 {
		f.Limit = 1
	}
	err = b.Iterate(ctx, f, func(o any) error {
		obj, ok = o, true
		return errStop
	})
	if err != nil {
		return nil, false, err
	}
	return obj, ok, nil
}

// Insert adds a row and returns its rowid. Fewer values than declared
// columns fill the trailing columns.
func (b *Binding) Insert(ctx context.Context, values ...any) (int64, error) {
	return b.InsertColumns(ctx, nil, values...)
}

// InsertColumns is Insert into the given columns.
func (b *Binding) InsertColumns(ctx context.Context, columns []string, values ...any) (int64, error) {
	d := b.table.load()
	if len(columns) == 0 {
		columns = d.columns
	}
	q, err := BuildInsert(d.name, columns, len(values))
	if err != nil {
		return 0, err
	}
	res, err := b.session.ExecContext(ctx, q, values...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update sets f.Columns (or every declared column) to values on the rows
// matching f and returns the number of rows changed. values bind before
// f.Args.
func (b *Binding) Update(ctx context.Context, values []any, f Filter) (int64, error) {
	d := b.table.load()
	cols := f.Columns
	if len(cols) == 0 {
		cols = d.columns
	}
	if len(values) != len(cols) {
		return 0, schemaErr(d.name, "%d values for %d columns", len(values), len(cols))
	}
	q, err := BuildUpdate(d.name, cols, f.Where)
	if err != nil {
		return 0, err
	}
	return b.affected(ctx, q, append(append([]any(nil), values...), f.Args...))
}

// UpdateExpr runs UPDATE with a hand-written SET expression:
//
//	b.UpdateExpr(ctx, "age = age + 1", xtable.Where("ID = ?", 1))
func (b *Binding) UpdateExpr(ctx context.Context, setExpr string, f Filter) (int64, error) {
	q, err := BuildUpdateExpr(b.table.Name(), setExpr, f.Where)
	if err != nil {
		return 0, err
	}
	return b.affected(ctx, q, f.Args)
}

// Delete removes the rows matching f.
func (b *Binding) Delete(ctx context.Context, f Filter) (int64, error) {
	q, err := BuildDelete(b.table.Name(), f.Where)
	if err != nil {
		return 0, err
	}
	return b.affected(ctx, q, f.Args)
}

// DeleteObject removes the row whose identity columns match obj.
func (b *Binding) DeleteObject(ctx context.Context, obj any) (int64, error) {
	d := b.table.load()
	if len(d.identity) == 0 {
		return 0, schemaErr(d.name, "no identity columns to delete an object by")
	}
	ids, err := ObjectToRow(obj, d.identity, d.fieldMap)
	if err != nil {
		return 0, err
	}
	return b.Delete(ctx, Where(identityWhere(d.identity), ids...))
}

func (b *Binding) affected(ctx context.Context, q string, args []any) (int64, error) {
	res, err := b.session.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ByIdentity returns the row whose identity columns equal ids, in
// declaration order. Without identity columns ids is a single rowid.
// Absence is reported through ok, never as an error.
func (b *Binding) ByIdentity(ctx context.Context, ids ...any) (any, bool, error) {
	return b.ByIdentityColumns(ctx, nil, ids...)
}

// ByIdentityColumns is ByIdentity reading only columns.
func (b *Binding) ByIdentityColumns(ctx context.Context, columns []string, ids ...any) (any, bool, error) {
	d := b.table.load()
	key := d.identity
	if len(key) == 0 {
		key = []string{"rowid"}
	}
	if len(ids) != len(key) {
		return nil, false, schemaErr(d.name, "%d identity values for %d identity columns", len(ids), len(key))
	}
	return b.SelectOne(ctx, Where(identityWhere(key), ids...).Only(columns...))
}

// Save writes obj: an UPDATE keyed on the identity columns when the table
// declares some and obj holds a non-zero value for each, an INSERT
// otherwise. Zero identity values are inserted as NULL so the store assigns
// them. Save never checks whether the row exists; an unknown identity
// updates zero rows.
func (b *Binding) Save(ctx context.Context, obj any) (sql.Result, error) {
	return b.SaveColumns(ctx, obj)
}

// SaveColumns is Save writing only columns.
func (b *Binding) SaveColumns(ctx context.Context, obj any, columns ...string) (sql.Result, error) {
	d := b.table.load()
	if len(columns) == 0 {
		columns = d.columns
	}
	values, err := ObjectToRow(obj, columns, d.fieldMap)
	if err != nil {
		return nil, err
	}

	existing, err := hasIdentity(obj, d)
	if err != nil {
		return nil, err
	}
	if existing {
		ids, err := ObjectToRow(obj, d.identity, d.fieldMap)
		if err != nil {
			return nil, err
		}
		q, err := BuildUpdate(d.name, columns, identityWhere(d.identity))
		if err != nil {
			return nil, err
		}
		return b.session.ExecContext(ctx, q, append(values, ids...)...)
	}

	for i, c := range columns {
		if d.isIdentity(c) && isZeroValue(values[i]) {
			values[i] = nil
		}
	}
	q, err := BuildInsert(d.name, columns, len(values))
	if err != nil {
		return nil, err
	}
	return b.session.ExecContext(ctx, q, values...)
}

// ToTable marshals rows the way the bound table does.
func (b *Binding) ToTable(rows [][]any, columns ...string) ([]any, error) {
	return b.table.ToTable(rows, columns...)
}

// hasIdentity reports whether obj holds a non-zero value for every identity
// column of d, and d declares at least one.
func hasIdentity(obj any, d *tableDef) (bool, error) {
	if len(d.identity) == 0 {
		return false, nil
	}
	for _, c := range d.identity {
		set, err := attributeIsSet(obj, attributeOf(c, d.fieldMap))
		if err != nil {
			return false, err
		}
		if !set {
			return false, nil
		}
	}
	return true, nil
}

func (d *tableDef) isIdentity(column string) bool {
	for _, c := range d.identity {
		if normalizeColAscii(c) == normalizeColAscii(column) {
			return true
		}
	}
	return false
}
