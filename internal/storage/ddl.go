package storage

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between database sinks.
type Dialect struct {
	Name string
	// Quote quotes a single identifier.
	Quote func(ident string) string
	// Placeholder returns the bind marker for 1-based argument i.
	Placeholder func(i int) string
	// Types maps logical types to column types; "text" is required.
	Types map[string]string
	// IfNotExists reports whether CREATE TABLE IF NOT EXISTS is supported.
	IfNotExists bool
	// TransactionalDDL reports whether CREATE TABLE can run inside the load
	// transaction and be rolled back with it. MySQL commits DDL implicitly.
	TransactionalDDL bool
}

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// Built-in dialects.
var (
	SQLite = Dialect{
		Name:             "sqlite",
		Quote:            doubleQuote,
		Placeholder:      func(int) string { return "?" },
		Types:            map[string]string{"int": "INTEGER", "float": "REAL", "text": "TEXT"},
		IfNotExists:      true,
		TransactionalDDL: true,
	}
	MySQL = Dialect{
		Name:        "mysql",
		Quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		Placeholder: func(int) string { return "?" },
		Types:       map[string]string{"int": "BIGINT", "float": "DOUBLE", "text": "TEXT"},
		IfNotExists: true,
	}
	MSSQL = Dialect{
		Name:             "mssql",
		Quote:            func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
		Placeholder:      func(i int) string { return fmt.Sprintf("@p%d", i) },
		Types:            map[string]string{"int": "BIGINT", "float": "FLOAT", "text": "NVARCHAR(MAX)"},
		TransactionalDDL: true,
	}
	Postgres = Dialect{
		Name:             "postgres",
		Quote:            doubleQuote,
		Placeholder:      func(i int) string { return fmt.Sprintf("$%d", i) },
		Types:            map[string]string{"int": "BIGINT", "float": "DOUBLE PRECISION", "text": "TEXT"},
		IfNotExists:      true,
		TransactionalDDL: true,
	}
)

// Table quotes a possibly schema-qualified table name segment by segment.
func (d Dialect) Table(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// CreateTable renders a CREATE TABLE for columns. Every column is nullable
// since any cell may be missing.
func (d Dialect) CreateTable(table string, columns []string, types map[string]string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("%s ddl: table must not be empty", d.Name)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		logical := types[c]
		if logical == "" {
			logical = "text"
		}
		typ, ok := d.Types[logical]
		if !ok {
			return "", fmt.Errorf("%s ddl: column %q: unsupported type %q", d.Name, c, logical)
		}
		defs[i] = d.Quote(c) + " " + typ + " NULL"
	}

	var sb strings.Builder
	if d.IfNotExists {
		sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	} else {
		sb.WriteString("CREATE TABLE ")
	}
	sb.WriteString(d.Table(table))
	sb.WriteString(" (\n  ")
	sb.WriteString(strings.Join(defs, ",\n  "))
	sb.WriteString("\n)")
	return sb.String(), nil
}

// Insert renders a single-row INSERT for columns.
func (d Dialect) Insert(table string, columns []string) string {
	cols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.Quote(c)
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Table(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}
