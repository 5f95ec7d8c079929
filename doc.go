/*
Package xtable is a small relational-mapping layer over SQLite and
database/sql. You declare tables once on a Database, open sessions, and read
and write rows as Go structs or ordered Records. SQL stays visible: WHERE and
ORDER BY text is yours, and every value is bound, never interpolated.

# Overview

A Database holds table declarations and the setup scripts that create them.
Its Source (a DataSource on a file, or a MemorySource that serves a file
from memory) opens Sessions. A new or empty database is set up on the first
session opened on it: setup files first, then setup scripts, in the order
they were registered.

	db, err := xtable.New("people.db",
	    xtable.WithSetupScript(`CREATE TABLE person (ID INTEGER PRIMARY KEY, name TEXT, age INTEGER)`))
	person := db.AddTable("person", []string{"ID", "name", "age"},
	    xtable.Identity("ID"), xtable.Prototype(Person{}))

	err = db.WithSession(ctx, func(s *xtable.Session) error {
	    id, err := person.In(s).Insert(ctx, "Ana", 30)
	    if err != nil {
	        return err
	    }
	    p, ok, err := person.In(s).ByIdentity(ctx, id)
	    ...
	})

Table methods called without a session run on the Database's default
session, which is created on first use and released by Database.Close.

# Sessions and transactions

A Session pins one connection and keeps its own prepared statements. In
auto-commit mode (the default) each statement commits. With auto-commit off
the first write opens a transaction that lasts until Commit or Rollback;
Close rolls it back. Session.Double shares the connection, and so the
transaction, with a second statement cache for nested queries. Closed
sessions return ErrConnectionClosed.

# Mapping rules

  - Fields bind by `db:"name"` first; otherwise case-insensitive field ←→ column name.
  - A table's field map renames columns to fields before these rules apply.
  - Nested structs can be flattened with `db:",inline"`.
  - If a destination type (or field) implements sql.Scanner, its Scan method receives the driver value.
  - Driver values are converted: []byte and string, integer widths with overflow checks, TEXT to time.Time.
  - Columns without a field are ignored; fields without a column keep their zero value.

Without a prototype, rows come back as Records: values in column order,
addressable by column name.

# Saving

Save updates by the identity columns when the object has a non-zero value
for each of them and inserts otherwise, binding zero identity values as NULL
so SQLite assigns the key. It never checks whether the row exists.

# Parameters

Statements take positional ? arguments. A single struct or map[string]any
argument binds :name parameters instead, with slices expanded for IN lists:

	s.Select(ctx, `SELECT * FROM person WHERE age > :age AND ID IN (:ids)`,
	    map[string]any{"age": 25, "ids": []int{1, 2, 3}})

# Error handling

Failed statements are logged with their arguments and returned as
*QueryError. Other failures are *UnknownAttributeError, *MappingError and
*SchemaError; each matches its sentinel (ErrQueryFailed, ErrUnknownAttribute,
ErrMapping, ErrInvalidSchema) with errors.Is.
*/
package xtable
