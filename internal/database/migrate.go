package database

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
)

// MigrationReport describes what Migrate found and did. A report with
// failures means the store runs on a degraded schema.
type MigrationReport struct {
	DetectedVersion int      `json:"detected_version"`
	TargetVersion   int      `json:"target_version"`
	Applied         []string `json:"applied"`
	Failures        []string `json:"failures"`
}

func (r MigrationReport) Degraded() bool {
	return len(r.Failures) > 0
}

// Migrate brings the file up to SchemaVersion. Missing tables are created,
// missing columns are added as nullable columns, existing data is never
// touched. Individual failures are logged and collected, never returned, so
// the terminal can still boot on an older schema.
func (d *Database) Migrate(ctx context.Context) MigrationReport {
	log := logger.L()
	report := MigrationReport{TargetVersion: SchemaVersion}

	existing := make(map[string]map[string]bool, len(tables))
	for _, t := range tables {
		cols, err := d.tableColumns(ctx, t.Name)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("inspect %s: %v", t.Name, err))
			continue
		}
		if len(cols) > 0 {
			existing[t.Name] = cols
		}
	}
	report.DetectedVersion = detectVersion(existing)

	for _, t := range tables {
		cols, ok := existing[t.Name]
		if !ok {
			if _, err := d.DB.ExecContext(ctx, t.Create); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("create %s: %v", t.Name, err))
				continue
			}
			report.Applied = append(report.Applied, "create "+t.Name)
		} else {
			for _, c := range t.Columns {
				if cols[c.Name] {
					continue
				}
				stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t.Name, c.Name, c.Type)
				if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
					report.Failures = append(report.Failures, fmt.Sprintf("add %s.%s: %v", t.Name, c.Name, err))
					continue
				}
				report.Applied = append(report.Applied, fmt.Sprintf("add %s.%s", t.Name, c.Name))
			}
		}
		for _, idx := range t.Indexes {
			if _, err := d.DB.ExecContext(ctx, idx); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("index on %s: %v", t.Name, err))
			}
		}
	}

	if !report.Degraded() {
		if _, err := d.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("user_version: %v", err))
		}
	}

	if report.Degraded() {
		log.Error("Local schema migration incomplete, running degraded",
			zap.Int("detected_version", report.DetectedVersion),
			zap.Strings("failures", report.Failures),
		)
	} else if len(report.Applied) > 0 {
		log.Info("Local schema migrated",
			zap.Int("from_version", report.DetectedVersion),
			zap.Int("to_version", SchemaVersion),
			zap.Int("steps", len(report.Applied)),
		)
	}
	return report
}

// HasColumn reports whether the live table carries a column, which can differ
// from the registry on a degraded schema.
func (d *Database) HasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := d.tableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return cols[column], nil
}

func (d *Database) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	return TableColumns(ctx, d.DB, table)
}

// TableColumns lists the columns of the live table. Inside a transaction pass
// the tx, the pool holds a single connection.
func TableColumns(ctx context.Context, q Execer, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// SelectColumns renders a select list for table in which columns the live
// table lacks read as NULL.
func SelectColumns(ctx context.Context, q Execer, table string, columns ...string) (string, error) {
	cols, err := TableColumns(ctx, q, table)
	if err != nil {
		return "", fmt.Errorf("columns of %s: %w", table, err)
	}
	list := make([]string, len(columns))
	for i, c := range columns {
		if cols[c] {
			list[i] = c
		} else {
			list[i] = "NULL AS " + c
		}
	}
	return strings.Join(list, ", "), nil
}

// detectVersion infers the schema version from which expected columns are
// present: the version is one below the oldest missing column's version.
func detectVersion(existing map[string]map[string]bool) int {
	if len(existing) == 0 {
		return 0
	}
	version := SchemaVersion
	for _, t := range tables {
		cols, ok := existing[t.Name]
		if !ok {
			continue
		}
		for _, c := range t.Columns {
			if !cols[c.Name] && c.Since-1 < version {
				version = c.Since - 1
			}
		}
	}
	return version
}
