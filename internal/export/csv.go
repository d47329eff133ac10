// Package export renders campaign results as CSV and XLSX and archives them
// to S3.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/analytics"
)

// Header is the CSV column order.
var Header = []string{
	"Target Email", "First Name", "Last Name", "Department", "Status",
	"Sent Time", "Open Time", "Click Time", "Submit Time",
}

// TimeLayout is the ISO-8601 form used for every timestamp column.
const TimeLayout = time.RFC3339Nano

// ErrBadHeader is returned by ReadCSV when the first line is not Header.
var ErrBadHeader = errors.New("unexpected csv header")

// Record is one parsed CSV row.
type Record struct {
	Email       string
	FirstName   string
	LastName    string
	Department  string
	Status      domain.TargetStatus
	SentAt      *time.Time
	OpenedAt    *time.Time
	ClickedAt   *time.Time
	SubmittedAt *time.Time
}

// formulaLeads are the first characters spreadsheet apps evaluate as a
// formula. A leading quote is escaped too so plainCell inverts safeCell.
const formulaLeads = "=+-@\t\r'"

// safeCell neutralizes imported text before it reaches a spreadsheet.
func safeCell(s string) string {
	if s != "" && strings.IndexByte(formulaLeads, s[0]) >= 0 {
		return "'" + s
	}
	return s
}

func plainCell(s string) string {
	return strings.TrimPrefix(s, "'")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteCSV writes one row per enrollment.
func WriteCSV(w io.Writer, rows []analytics.RecipientRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			safeCell(r.Target.Email), safeCell(r.Target.FirstName), safeCell(r.Target.LastName), safeCell(r.Target.Department), string(r.Status),
			formatTime(r.SentAt), formatTime(r.OpenedAt), formatTime(r.ClickedAt), formatTime(r.SubmittedAt),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses output of WriteCSV.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q", ErrBadHeader, i+1, head[i])
		}
	}

	var out []Record
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		row := Record{
			Email: plainCell(rec[0]), FirstName: plainCell(rec[1]), LastName: plainCell(rec[2]), Department: plainCell(rec[3]),
			Status: domain.TargetStatus(rec[4]),
		}
		for i, dst := range []**time.Time{&row.SentAt, &row.OpenedAt, &row.ClickedAt, &row.SubmittedAt} {
			t, err := parseTime(rec[5+i])
			if err != nil {
				return nil, fmt.Errorf("line %d, %s: %w", line, Header[5+i], err)
			}
			*dst = t
		}
		out = append(out, row)
	}
}
