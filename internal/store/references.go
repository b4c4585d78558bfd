package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RewriteReferences replaces the value of column in every row of table whose
// value contains filename with url. It returns the number of rows changed.
//
// Table and column are interpolated as identifiers and must be plain SQL
// names; filename is matched literally.
func (s *Store) RewriteReferences(ctx context.Context, table, column, filename, url string) (n int64, err error) {
	if !identifierPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	if !identifierPattern.MatchString(column) {
		return 0, fmt.Errorf("invalid column name %q", column)
	}
	if strings.TrimSpace(filename) == "" {
		return 0, fmt.Errorf("filename is required")
	}

	ctx, span := tracer.Start(ctx, "RewriteReferences")
	defer func() { endSpan(span, err) }()

	query := fmt.Sprintf(`UPDATE %q SET %q = ? WHERE %q LIKE ? ESCAPE '\' AND %q <> ?`, table, column, column, column)
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, url, "%"+escapeLike(filename)+"%", url)
		if err != nil {
			return unavailable("rewrite references", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return unavailable("rewrite references", err)
		}
		return nil
	})
	return n, err
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
