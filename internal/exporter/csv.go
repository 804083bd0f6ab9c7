package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"customer-auth/internal/admin"
)

// WriteCSV renders every changelist row selected by values as CSV with the
// list_display labels as header. Pagination parameters are ignored.
func WriteCSV(ctx context.Context, w io.Writer, reg *admin.Registration, values url.Values) (int, error) {
	cw := csv.NewWriter(w)

	columns := reg.Columns()
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Label
	}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	rows, err := reg.Each(ctx, values, func(row admin.Row) error {
		for i, cell := range row.Cells {
			record[i] = formatCell(cell)
		}
		return cw.Write(record)
	})
	if err != nil {
		return rows, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
