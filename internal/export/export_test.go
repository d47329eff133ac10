package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/repository/memory"
	"github.com/ignite/phishsim/internal/service/analytics"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/service/tracking"
)

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, domain.DispatchJob) error { return nil }

// seed builds a campaign with three targets at different funnel stages.
func seed(t *testing.T) (*memory.Store, *domain.Campaign) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	svc := campaign.NewService(store, nopQueue{}, campaign.Options{})
	tpl, err := svc.CreateTemplate(ctx, campaign.TemplateInput{Name: "t", Subject: "s", HTMLContent: "{{click_url}}"})
	require.NoError(t, err)
	c, err := svc.Create(ctx, campaign.CreateInput{Name: "Export drill", TemplateID: tpl.ID})
	require.NoError(t, err)
	_, err = svc.AttachTargets(ctx, c.ID, []domain.Target{
		{Email: "ann@example.com", FirstName: "Ann", Department: "Finance"},
		{Email: "bob@example.com", FirstName: "Bob", LastName: "O'Neil, Jr."},
		{Email: "cat@example.com", FirstName: "Cat", Department: "IT"},
	})
	require.NoError(t, err)

	now := time.Date(2024, 4, 2, 9, 30, 0, 123456789, time.UTC)
	trk := tracking.NewService(store, nil).WithClock(func() time.Time {
		now = now.Add(7*time.Minute + 3*time.Millisecond)
		return now
	})
	recips, err := store.ListRecipients(ctx, c.ID)
	require.NoError(t, err)
	for _, r := range recips {
		switch r.Target.Email {
		case "ann@example.com":
			_, err = trk.RecordSend(ctx, r.ID, nil)
			require.NoError(t, err)
			_, err = trk.Open(ctx, tracking.Request{Token: r.Token})
			require.NoError(t, err)
			_, err = trk.Click(ctx, tracking.Request{Token: r.Token})
			require.NoError(t, err)
		case "bob@example.com":
			_, err = trk.RecordSend(ctx, r.ID, nil)
			require.NoError(t, err)
		}
	}
	return store, c
}

func TestCSVRoundTripMatchesEventLog(t *testing.T) {
	store, c := seed(t)
	ctx := context.Background()
	snap, err := store.Snapshot(ctx, c.ID)
	require.NoError(t, err)
	rows := analytics.Rows(snap)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "Target Email,First Name,Last Name,Department,Status,"))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(rows))

	same := func(want, have *time.Time) {
		if want == nil {
			assert.Nil(t, have)
			return
		}
		require.NotNil(t, have)
		assert.True(t, want.Equal(*have), "want %s have %s", want, have)
	}
	for i, r := range rows {
		assert.Equal(t, r.Target.Email, got[i].Email)
		assert.Equal(t, r.Target.LastName, got[i].LastName)
		assert.Equal(t, r.Status, got[i].Status)
		same(r.SentAt, got[i].SentAt)
		same(r.OpenedAt, got[i].OpenedAt)
		same(r.ClickedAt, got[i].ClickedAt)
		same(r.SubmittedAt, got[i].SubmittedAt)
	}

	// the live log agrees with the export
	for _, rec := range got {
		if rec.Email == "ann@example.com" {
			assert.Equal(t, domain.TargetClicked, rec.Status)
			require.NotNil(t, rec.ClickedAt)
		}
		if rec.Email == "cat@example.com" {
			assert.Equal(t, domain.TargetPending, rec.Status)
			assert.Nil(t, rec.SentAt)
		}
	}
}

func TestReadCSVRejectsForeignHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("email,a,b,c,d,e,f,g,h\n"))
	assert.True(t, errors.Is(err, ErrBadHeader))
}

func TestWriteXLSX(t *testing.T) {
	store, c := seed(t)
	ctx := context.Background()
	snap, err := store.Snapshot(ctx, c.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, Report{
		Campaign:    c,
		Metrics:     analytics.Funnel(analytics.CountsFromSnapshot(snap)),
		Recipients:  analytics.Rows(snap),
		Departments: analytics.Departments(snap),
	}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Recipients", "Departments"}, f.GetSheetList())

	v, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Export drill", v)
	v, err = f.GetCellValue("Summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	rows, err := f.GetRows("Recipients")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, Header[0], rows[0][0])
}

func TestExportsNeutralizeFormulaCells(t *testing.T) {
	rows := []analytics.RecipientRow{{
		Recipient: domain.Recipient{
			Target: domain.Target{
				Email:      "eve@example.com",
				FirstName:  `=HYPERLINK("http://evil.example","x")`,
				LastName:   "'quoted",
				Department: "@SUM(A1:A9)",
			},
			CampaignTarget: domain.CampaignTarget{Status: domain.TargetPending},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.Contains(t, buf.String(), `'=HYPERLINK`)
	assert.Contains(t, buf.String(), "''quoted")
	assert.Contains(t, buf.String(), "'@SUM(A1:A9)")

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rows[0].Target.FirstName, got[0].FirstName)
	assert.Equal(t, "'quoted", got[0].LastName)
	assert.Equal(t, "@SUM(A1:A9)", got[0].Department)

	var xbuf bytes.Buffer
	require.NoError(t, WriteXLSX(&xbuf, Report{
		Campaign:    &domain.Campaign{Name: "-2+3", Status: domain.CampaignDraft},
		Recipients:  rows,
		Departments: []analytics.DepartmentStats{{Department: "+Ops", TotalTargets: 1}},
	}))
	f, err := excelize.OpenReader(&xbuf)
	require.NoError(t, err)
	defer f.Close()
	for sheet, cells := range map[string]map[string]string{
		"Summary":     {"B1": "'-2+3"},
		"Recipients":  {"B2": `'=HYPERLINK("http://evil.example","x")`, "D2": "'@SUM(A1:A9)"},
		"Departments": {"A2": "'+Ops"},
	} {
		for cell, want := range cells {
			v, err := f.GetCellValue(sheet, cell)
			require.NoError(t, err)
			assert.Equal(t, want, v, "%s!%s", sheet, cell)
		}
	}
}

type fakeS3 struct{ in *s3.PutObjectInput }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, nil
}

func TestArchiverPut(t *testing.T) {
	api := &fakeS3{}
	a := newArchiver(api, "results", "exports")
	a.now = func() time.Time { return time.Date(2024, 4, 2, 10, 11, 12, 0, time.UTC) }

	key, err := a.Put(context.Background(), "c-1", "csv", "text/csv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "exports/c-1/20240402T101112.csv", key)
	assert.Equal(t, "results", aws.ToString(api.in.Bucket))
	assert.Equal(t, "text/csv", aws.ToString(api.in.ContentType))
}
