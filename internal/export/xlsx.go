package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/analytics"
)

// Report is everything the workbook shows.
type Report struct {
	Campaign    *domain.Campaign
	Metrics     analytics.Metrics
	Recipients  []analytics.RecipientRow
	Departments []analytics.DepartmentStats
}

// WriteXLSX writes a workbook with Summary, Recipients and Departments
// sheets.
func WriteXLSX(w io.Writer, rep Report) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFF3CD"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetName(f.GetSheetName(0), "Summary"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	m := rep.Metrics
	summary := [][]any{
		{"Campaign", safeCell(rep.Campaign.Name)},
		{"Status", string(rep.Campaign.Status)},
		{"Total Targets", m.TotalTargets},
		{"Emails Sent", m.EmailsSent},
		{"Unique Opens", m.UniqueOpens},
		{"Unique Clicks", m.UniqueClicks},
		{"Unique Submits", m.UniqueSubmits},
		{"Delivery Rate %", m.DeliveryRate},
		{"Open Rate %", m.OpenRate},
		{"Click Rate %", m.ClickRate},
		{"Submission Rate %", m.SubmissionRate},
	}
	if err := writeRows(f, "Summary", 1, summary); err != nil {
		return err
	}
	f.SetColWidth("Summary", "A", "A", 22)

	if _, err := f.NewSheet("Recipients"); err != nil {
		return err
	}
	rows := make([][]any, 0, len(rep.Recipients)+1)
	rows = append(rows, toAny(Header))
	for _, r := range rep.Recipients {
		rows = append(rows, []any{
			safeCell(r.Target.Email), safeCell(r.Target.FirstName), safeCell(r.Target.LastName), safeCell(r.Target.Department), string(r.Status),
			formatTime(r.SentAt), formatTime(r.OpenedAt), formatTime(r.ClickedAt), formatTime(r.SubmittedAt),
		})
	}
	if err := writeRows(f, "Recipients", 1, rows); err != nil {
		return err
	}
	f.SetCellStyle("Recipients", "A1", "I1", headerStyle)
	f.SetColWidth("Recipients", "A", "A", 32)
	f.SetColWidth("Recipients", "F", "I", 30)

	if _, err := f.NewSheet("Departments"); err != nil {
		return err
	}
	depts := [][]any{{"Department", "Total Targets", "Opened", "Clicked", "Submitted", "Engagement Rate %"}}
	for _, d := range rep.Departments {
		depts = append(depts, []any{safeCell(d.Department), d.TotalTargets, d.Opened, d.Clicked, d.Submitted, d.EngagementRate})
	}
	if err := writeRows(f, "Departments", 1, depts); err != nil {
		return err
	}
	f.SetCellStyle("Departments", "A1", "F1", headerStyle)

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, startRow+i, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
