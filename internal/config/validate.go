package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config, e.g. "storage.csv.path".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline lints p without mutating it.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateColumns(p.Columns)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.file.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "http":
		u := strings.TrimSpace(s.HTTP.URL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.url",
				Message:  fmt.Sprintf("http source requires an http(s) url, got %q", u),
			})
		}
		if s.HTTP.MaxRetries < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.max_retries",
				Message:  "max_retries must be >= 0",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unsupported source kind %q", s.Kind),
		})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is available", p.Kind),
		})
	}
	switch enc := strings.ToLower(p.Options.String("encoding", "latin1")); enc {
	case "latin1", "iso-8859-1", "utf-8", "utf8":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.encoding",
			Message:  fmt.Sprintf("unsupported encoding %q; use latin1 or utf-8", enc),
		})
	}
	return issues
}

func validateColumns(c Columns) []Issue {
	var issues []Issue
	if len(c.Keep) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns.keep",
			Message:  "at least one kept column is required",
		})
		return issues
	}

	kept := make(map[string]struct{}, len(c.Keep))
	for i, name := range c.Keep {
		if _, dup := kept[name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("columns.keep[%d]", i),
				Message:  fmt.Sprintf("duplicate kept column %q", name),
			})
		}
		kept[name] = struct{}{}
	}

	for i, name := range c.Encode {
		if _, ok := kept[name]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("columns.encode[%d]", i),
				Message:  fmt.Sprintf("encoded column %q is not kept and will never be encoded", name),
			})
		}
	}

	dests := make(map[string]string, len(c.Dates))
	for src, dst := range c.Dates {
		path := fmt.Sprintf("columns.dates[%q]", src)
		if _, ok := kept[src]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path,
				Message:  fmt.Sprintf("date column %q is not kept and will never be normalized", src),
			})
		}
		if strings.TrimSpace(dst) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "destination column name must not be empty",
			})
			continue
		}
		if other, ok := dests[dst]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("destination %q already used by %q", dst, other),
			})
		}
		if _, clash := kept[dst]; clash && dst != src {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("destination %q collides with a kept column", dst),
			})
		}
		dests[dst] = src
	}
	if len(c.Dates) > 0 && len(c.DateLayouts) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns.date_layouts",
			Message:  "date columns are configured but no layouts are given",
		})
	}

	for name, typ := range c.Types {
		switch typ {
		case "int", "float":
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("columns.types[%q]", name),
				Message:  fmt.Sprintf("unsupported type %q; use int or float", typ),
			})
		}
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	switch s.Kind {
	case "csv":
		if strings.TrimSpace(s.CSV.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.csv.path",
				Message:  "csv storage requires an output path",
			})
		}
	case "sqlite", "mysql", "mssql", "postgres":
		if strings.TrimSpace(s.DB.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.dsn",
				Message:  fmt.Sprintf("%s storage requires a dsn", s.Kind),
			})
		}
		if strings.TrimSpace(s.DB.Table) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.table",
				Message:  fmt.Sprintf("%s storage requires a table", s.Kind),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unsupported storage kind %q", s.Kind),
		})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must be > 0",
		})
	}
	if r.MaxRows <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.max_rows",
			Message:  "max_rows must be > 0",
		})
	}
	if r.BatchSize > 0 && r.MaxRows > 0 && r.BatchSize > r.MaxRows {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size %d exceeds max_rows %d; only one batch will be read", r.BatchSize, r.MaxRows),
		})
	}
	return issues
}
