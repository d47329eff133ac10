package campaign

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ignite/phishsim/internal/domain"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validEmail(email string) bool { return emailRegex.MatchString(email) }

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func normalizeHeader(header string) string {
	normalized := strings.ToLower(strings.TrimSpace(header))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return strings.TrimPrefix(normalized, "\ufeff")
}

// RowError describes one rejected import row. Row numbers count the header
// as row 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Message) }

// ParseTargetsCSV reads a target list. The email column is required;
// first_name, last_name and department are optional. Invalid rows are
// reported and skipped.
func ParseTargetsCSV(r io.Reader) ([]domain.Target, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrMissingHeader
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols := map[string]int{"email": -1, "first_name": -1, "last_name": -1, "department": -1}
	for i, h := range header {
		if _, ok := cols[normalizeHeader(h)]; ok {
			cols[normalizeHeader(h)] = i
		}
	}
	if cols["email"] < 0 {
		return nil, nil, ErrMissingHeader
	}

	field := func(rec []string, name string) string {
		i := cols[name]
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var targets []domain.Target
	var rowErrs []RowError
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Message: err.Error()})
			continue
		}
		email := normalizeEmail(field(rec, "email"))
		switch {
		case email == "":
			rowErrs = append(rowErrs, RowError{Row: row, Message: "email is required"})
			continue
		case !validEmail(email):
			rowErrs = append(rowErrs, RowError{Row: row, Message: "invalid email format: " + email})
			continue
		}
		targets = append(targets, domain.Target{
			Email:      email,
			FirstName:  field(rec, "first_name"),
			LastName:   field(rec, "last_name"),
			Department: field(rec, "department"),
		})
	}
	return targets, rowErrs, nil
}
