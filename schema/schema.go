// Package schema declares the closed set of table descriptors the service
// persists. The storage engine walks these descriptors for table creation and
// for its generic CRUD; nothing else in the repository names a column twice.
package schema

import (
	"fmt"
	"strings"
)

// FieldType is the declared storage type of a column. LONG and INTEGER both
// map to SQLite INTEGER storage; the distinction drives decode width only.
type FieldType string

const (
	Integer FieldType = "INTEGER"
	Long    FieldType = "LONG"
	Real    FieldType = "REAL"
	Text    FieldType = "TEXT"
)

// SQLType returns the SQLite column type for the declared field type.
func (t FieldType) SQLType() string {
	switch t {
	case Real:
		return "REAL"
	case Text:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

// Field describes one column of a table.
type Field struct {
	Name          string
	Type          FieldType
	PrimaryKey    bool
	AutoIncrement bool
}

// Table describes one persisted entity.
type Table struct {
	Name   string
	Fields []Field
}

// CreateSQL emits the CREATE TABLE IF NOT EXISTS statement for the table.
func (t Table) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", t.Name)
	for i, f := range t.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteByte(' ')
		b.WriteString(f.Type.SQLType())
		if f.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
			if f.AutoIncrement {
				b.WriteString(" AUTOINCREMENT")
			}
		}
	}
	b.WriteString(")")
	return b.String()
}

// PrimaryKey returns the primary key field.
func (t Table) PrimaryKey() (Field, bool) {
	for _, f := range t.Fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return Field{}, false
}

// DataFields returns every non-primary-key field in declaration order.
func (t Table) DataFields() []Field {
	fields := make([]Field, 0, len(t.Fields)-1)
	for _, f := range t.Fields {
		if !f.PrimaryKey {
			fields = append(fields, f)
		}
	}
	return fields
}

// ColumnNames returns all column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by column name.
func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func id() Field {
	return Field{Name: "id", Type: Integer, PrimaryKey: true, AutoIncrement: true}
}

// The twelve persisted entities. Every table is created at startup if missing
// and never dropped or migrated at runtime.
var (
	// AppData holds raw inbound payloads captured by companion apps.
	AppData = Table{Name: "appData", Fields: []Field{
		id(),
		{Name: "data", Type: Text},
		{Name: "source", Type: Text},
		{Name: "time", Type: Long},
		{Name: "match", Type: Integer},
		{Name: "rule", Type: Text},
		{Name: "issue", Type: Integer},
		{Name: "type", Type: Integer},
	}}

	// Assets holds named accounts.
	Assets = Table{Name: "assets", Fields: []Field{
		id(),
		{Name: "name", Type: Text},
		{Name: "icon", Type: Text},
		{Name: "sort", Type: Integer},
		{Name: "type", Type: Integer},
		{Name: "extras", Type: Text},
	}}

	// AssetsMap holds account-name normalization rules.
	AssetsMap = Table{Name: "assetsMap", Fields: []Field{
		id(),
		{Name: "regex", Type: Integer},
		{Name: "name", Type: Text},
		{Name: "mapName", Type: Text},
	}}

	// Auth holds per-companion-app credentials.
	Auth = Table{Name: "auth", Fields: []Field{
		id(),
		{Name: "app", Type: Text},
		{Name: "token", Type: Text},
	}}

	// BillInfo holds classified transactions.
	BillInfo = Table{Name: "billInfo", Fields: []Field{
		id(),
		{Name: "type", Type: Integer},
		{Name: "currency", Type: Text},
		{Name: "money", Type: Real},
		{Name: "fee", Type: Real},
		{Name: "time", Type: Long},
		{Name: "shopName", Type: Text},
		{Name: "shopItem", Type: Text},
		{Name: "cateName", Type: Text},
		{Name: "extendData", Type: Text},
		{Name: "bookName", Type: Text},
		{Name: "accountNameFrom", Type: Text},
		{Name: "accountNameTo", Type: Text},
		{Name: "fromApp", Type: Text},
		{Name: "groupId", Type: Integer},
		{Name: "channel", Type: Text},
		{Name: "syncFromApp", Type: Integer},
		{Name: "remark", Type: Text},
		{Name: "auto", Type: Integer},
	}}

	// BookBill holds externally sourced reference bills for reconciliation.
	BookBill = Table{Name: "bookBill", Fields: []Field{
		id(),
		{Name: "amount", Type: Real},
		{Name: "time", Type: Long},
		{Name: "remark", Type: Text},
		{Name: "billId", Type: Text},
		{Name: "type", Type: Integer},
		{Name: "book", Type: Text},
		{Name: "category", Type: Text},
		{Name: "accountFrom", Type: Text},
		{Name: "accountTo", Type: Text},
	}}

	// BookName holds logical ledgers.
	BookName = Table{Name: "bookName", Fields: []Field{
		id(),
		{Name: "name", Type: Text},
		{Name: "icon", Type: Text},
	}}

	// Category holds the hierarchical category tree.
	Category = Table{Name: "category", Fields: []Field{
		id(),
		{Name: "name", Type: Text},
		{Name: "icon", Type: Text},
		{Name: "remoteId", Type: Text},
		{Name: "parent", Type: Integer},
		{Name: "book", Type: Integer},
		{Name: "sort", Type: Integer},
		{Name: "type", Type: Integer},
	}}

	// CustomRule holds user-defined classification rules.
	CustomRule = Table{Name: "customRule", Fields: []Field{
		id(),
		{Name: "use", Type: Integer},
		{Name: "sort", Type: Integer},
		{Name: "auto_create", Type: Integer},
		{Name: "js", Type: Text},
		{Name: "text", Type: Text},
		{Name: "element", Type: Text},
	}}

	// Log holds structured log lines.
	Log = Table{Name: "log", Fields: []Field{
		id(),
		{Name: "date", Type: Text},
		{Name: "app", Type: Text},
		{Name: "hook", Type: Integer},
		{Name: "level", Type: Integer},
		{Name: "thread", Type: Text},
		{Name: "line", Type: Text},
		{Name: "log", Type: Text},
	}}

	// Rule holds enabled-rule registrations. Name uniqueness is a convention
	// maintained by callers, not a schema constraint; lookups resolve
	// duplicates to the newest row.
	Rule = Table{Name: "rule", Fields: []Field{
		id(),
		{Name: "app", Type: Text},
		{Name: "type", Type: Integer},
		{Name: "use", Type: Integer},
		{Name: "auto_record", Type: Integer},
		{Name: "name", Type: Text},
	}}

	// Settings holds the per-app key/value bag. (app, key) uniqueness is
	// enforced by the setting handler's insert-or-update.
	Settings = Table{Name: "settings", Fields: []Field{
		id(),
		{Name: "app", Type: Text},
		{Name: "key", Type: Text},
		{Name: "val", Type: Text},
	}}
)

var tables = []Table{
	AppData, Assets, AssetsMap, Auth, BillInfo, BookBill,
	BookName, Category, CustomRule, Log, Rule, Settings,
}

var byName = func() map[string]Table {
	m := make(map[string]Table, len(tables))
	for _, t := range tables {
		m[t.Name] = t
	}
	return m
}()

// Tables returns every declared table in creation order.
func Tables() []Table {
	out := make([]Table, len(tables))
	copy(out, tables)
	return out
}

// Lookup returns the descriptor for a table name.
func Lookup(name string) (Table, bool) {
	t, ok := byName[name]
	return t, ok
}
