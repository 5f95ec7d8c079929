package xtable

import (
	"context"
	"database/sql"
	"go/token"
	"log/slog"
	"maps"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// tableDef is one immutable version of a table declaration.
type tableDef struct {
	name     string
	columns  []string
	identity []string
	proto    reflect.Type
	fieldMap map[string]string // column -> attribute
	strict   bool
}

func (d *tableDef) clone() *tableDef {
	c := *d
	c.columns = append([]string(nil), d.columns...)
	c.identity = append([]string(nil), d.identity...)
	c.fieldMap = maps.Clone(d.fieldMap)
	if c.fieldMap == nil {
		c.fieldMap = map[string]string{}
	}
	return &c
}

// toObject marshals one row: a Record without a prototype, otherwise a
// pointer to a new prototype value.
func (d *tableDef) toObject(values []any, columns []string) (any, error) {
	if d.proto == nil {
		return RowToRecord(values, columns), nil
	}
	return RowToObject(values, columns, d.proto, d.fieldMap)
}

// Table describes a table: its name, its columns in positional order, the
// identity columns that key updates and lookups, and optionally the struct
// type rows are marshaled into.
//
// The declaration methods (SetIdentity, SetPrototype, AddFields, MapFields)
// publish a new version of the declaration and return the same *Table, so
// they chain and stay visible through the Database that registered it.
// Readers always see one complete version.
type Table struct {
	def atomic.Pointer[tableDef]
	db  *Database
	log *slog.Logger
}

// NewTable declares a table that is not registered with any Database. Its
// data operations need an explicit session through In.
func NewTable(name string, columns ...string) *Table {
	return newTable(nil, name, columns, false, nil)
}

func newTable(db *Database, name string, columns []string, strict bool, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{db: db, log: log}
	t.def.Store(&tableDef{name: name, strict: strict, fieldMap: map[string]string{}})
	t.AddFields(columns...)
	return t
}

// TableOption configures a table declared through Database.AddTable.
type TableOption func(*Table)

// Identity declares the identity columns.
func Identity(columns ...string) TableOption {
	return func(t *Table) { t.SetIdentity(columns...) }
}

// Prototype declares the struct type rows are marshaled into. proto may be
// a value, a pointer or a reflect.Type.
func Prototype(proto any) TableOption {
	return func(t *Table) { t.SetPrototype(proto) }
}

// FieldMap renames columns (keys) to struct attributes (values).
func FieldMap(m map[string]string) TableOption {
	return func(t *Table) { t.MapFields(m) }
}

// Alias registers the table under a second name.
func Alias(name string) TableOption {
	return func(t *Table) {
		if t.db != nil && name != "" {
			t.db.register(name, t)
		}
	}
}

func (t *Table) load() *tableDef { return t.def.Load() }

func (t *Table) update(fn func(d *tableDef)) *Table {
	for {
		old := t.def.Load()
		d := old.clone()
		fn(d)
		if t.def.CompareAndSwap(old, d) {
			return t
		}
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.load().name }

// Columns returns the declared columns in positional order.
func (t *Table) Columns() []string { return append([]string(nil), t.load().columns...) }

// Identity returns the identity columns.
func (t *Table) Identity() []string { return append([]string(nil), t.load().identity...) }

// Prototype returns the struct type rows are marshaled into, or nil.
func (t *Table) Prototype() reflect.Type { return t.load().proto }

// FieldMap returns a copy of the column -> attribute renames.
func (t *Table) FieldMap() map[string]string { return maps.Clone(t.load().fieldMap) }

// SetIdentity appends identity columns.
func (t *Table) SetIdentity(columns ...string) *Table {
	return t.update(func(d *tableDef) { d.identity = append(d.identity, columns...) })
}

// SetPrototype sets the struct type rows are marshaled into. A nil proto
// makes reads return Records.
func (t *Table) SetPrototype(proto any) *Table {
	var rt reflect.Type
	switch p := proto.(type) {
	case nil:
	case reflect.Type:
		rt = p
	default:
		rt = reflect.TypeOf(p)
	}
	return t.update(func(d *tableDef) { d.proto = rt })
}

// AddFields appends columns. In strict mode the resulting column list is
// checked and a warning is logged when a column cannot serve as a field
// name; the columns are added either way.
func (t *Table) AddFields(columns ...string) *Table {
	t.update(func(d *tableDef) { d.columns = append(d.columns, columns...) })
	d := t.load()
	if d.strict {
		if problems := columnProblems(d.columns); len(problems) > 0 {
			t.log.Warn("bad database design detected",
				"table", d.name, "columns", d.columns, "problems", problems)
		}
	}
	return t
}

// MapFields merges column -> attribute renames.
func (t *Table) MapFields(m map[string]string) *Table {
	return t.update(func(d *tableDef) { maps.Copy(d.fieldMap, m) })
}

// columnProblems lists the columns that are not usable as field names:
// non identifiers, keywords, names with a leading underscore and
// duplicates.
func columnProblems(columns []string) []string {
	var out []string
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		switch {
		case !token.IsIdentifier(c) && !token.IsKeyword(c):
			out = append(out, strconv.Quote(c)+" is not an identifier")
		case token.IsKeyword(c):
			out = append(out, strconv.Quote(c)+" is a keyword")
		case strings.HasPrefix(c, "_"):
			out = append(out, strconv.Quote(c)+" starts with an underscore")
		}
		k := strings.ToLower(c)
		if seen[k] {
			out = append(out, strconv.Quote(c)+" is duplicated")
		}
		seen[k] = true
	}
	return out
}

// String renders the declaration as Table("person", ID, name, age).
func (t *Table) String() string {
	d := t.load()
	var b strings.Builder
	b.WriteString("Table(")
	b.WriteString(strconv.Quote(d.name))
	for _, c := range d.columns {
		b.WriteString(", ")
		b.WriteString(c)
	}
	b.WriteByte(')')
	return b.String()
}

// ToTable marshals rows. columns default to the declared columns. Zero rows
// give an empty, non-nil slice.
func (t *Table) ToTable(rows [][]any, columns ...string) ([]any, error) {
	d := t.load()
	if len(columns) == 0 {
		columns = d.columns
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		o, err := d.toObject(r, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// In binds the table to s.
func (t *Table) In(s *Session) *Binding {
	return &Binding{table: t, session: s}
}

// bound binds the table to the default session of its Database.
func (t *Table) bound(ctx context.Context) (*Binding, error) {
	if t.db == nil {
		return nil, schemaErr(t.Name(), "table is not registered with a database; use In")
	}
	s, err := t.db.Default(ctx)
	if err != nil {
		return nil, err
	}
	return t.In(s), nil
}

// Select is Binding.Select on the default session.
func (t *Table) Select(ctx context.Context, f Filter) ([]any, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, err
	}
	return b.Select(ctx, f)
}

// SelectOne is Binding.SelectOne on the default session.
func (t *Table) SelectOne(ctx context.Context, f Filter) (any, bool, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, false, err
	}
	return b.SelectOne(ctx, f)
}

// Iterate is Binding.Iterate on the default session.
func (t *Table) Iterate(ctx context.Context, f Filter, fn func(obj any) error) error {
	b, err := t.bound(ctx)
	if err != nil {
		return err
	}
	return b.Iterate(ctx, f, fn)
}

// Insert is Binding.Insert on the default session.
func (t *Table) Insert(ctx context.Context, values ...any) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.Insert(ctx, values...)
}

// InsertColumns is Binding.InsertColumns on the default session.
func (t *Table) InsertColumns(ctx context.Context, columns []string, values ...any) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.InsertColumns(ctx, columns, values...)
}

// Update is Binding.Update on the default session.
func (t *Table) Update(ctx context.Context, values []any, f Filter) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.Update(ctx, values, f)
}

// UpdateExpr is Binding.UpdateExpr on the default session.
func (t *Table) UpdateExpr(ctx context.Context, setExpr string, f Filter) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.UpdateExpr(ctx, setExpr, f)
}

// Delete is Binding.Delete on the default session.
func (t *Table) Delete(ctx context.Context, f Filter) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.Delete(ctx, f)
}

// DeleteObject is Binding.DeleteObject on the default session.
func (t *Table) DeleteObject(ctx context.Context, obj any) (int64, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return 0, err
	}
	return b.DeleteObject(ctx, obj)
}

// ByIdentity is Binding.ByIdentity on the default session.
func (t *Table) ByIdentity(ctx context.Context, ids ...any) (any, bool, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, false, err
	}
	return b.ByIdentity(ctx, ids...)
}

// ByIdentityColumns is Binding.ByIdentityColumns on the default session.
func (t *Table) ByIdentityColumns(ctx context.Context, columns []string, ids ...any) (any, bool, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, false, err
	}
	return b.ByIdentityColumns(ctx, columns, ids...)
}

// Save is Binding.Save on the default session.
func (t *Table) Save(ctx context.Context, obj any) (sql.Result, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, err
	}
	return b.Save(ctx, obj)
}

// SaveColumns is Binding.SaveColumns on the default session.
func (t *Table) SaveColumns(ctx context.Context, obj any, columns ...string) (sql.Result, error) {
	b, err := t.bound(ctx)
	if err != nil {
		return nil, err
	}
	return b.SaveColumns(ctx, obj, columns...)
}

