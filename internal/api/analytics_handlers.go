package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/phishsim/internal/export"
	"github.com/ignite/phishsim/internal/pkg/httputil"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Overview handles GET /api/overview
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Analytics.Overview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, o)
}

// CampaignMetrics handles GET /api/campaigns/{campaignID}/metrics
func (h *Handlers) CampaignMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Analytics.Campaign(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, m)
}

// DepartmentBreakdown handles GET /api/campaigns/{campaignID}/departments
func (h *Handlers) DepartmentBreakdown(w http.ResponseWriter, r *http.Request) {
	d, err := h.deps.Analytics.Departments(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, d)
}

// Timeline handles GET /api/campaigns/{campaignID}/timeline?from=RFC3339&hours=N
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "from must be an RFC 3339 timestamp")
			return
		}
		from = t
	}
	hours := 0
	if v := q.Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "hours must be a positive integer")
			return
		}
		hours = n
	}
	buckets, err := h.deps.Analytics.Timeline(r.Context(), chi.URLParam(r, "campaignID"), from, hours)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, buckets)
}

// Engagement handles GET /api/campaigns/{campaignID}/engagement
func (h *Handlers) Engagement(w http.ResponseWriter, r *http.Request) {
	e, err := h.deps.Analytics.Engagement(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, e)
}

// ExportCSV handles GET /api/campaigns/{campaignID}/export.csv
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	data, err := h.renderCSV(r, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", fmt.Sprintf("campaign-%s.csv", id), data)
}

// ExportXLSX handles GET /api/campaigns/{campaignID}/export.xlsx
func (h *Handlers) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	data, err := h.renderXLSX(r, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeAttachment(w, xlsxContentType, fmt.Sprintf("campaign-%s.xlsx", id), data)
}

// ArchiveExport writes the CSV or workbook report to object storage and
// returns its key.
//
//	POST /api/campaigns/{campaignID}/export/archive?format=csv|xlsx
func (h *Handlers) ArchiveExport(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archiver == nil {
		httputil.ErrorCode(w, http.StatusNotImplemented, "archive_not_configured", "export archive is not configured")
		return
	}
	id := chi.URLParam(r, "campaignID")

	var (
		data []byte
		ext  string
		ct   string
		err  error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		data, err = h.renderCSV(r, id)
		ext, ct = "csv", "text/csv"
	case "xlsx":
		data, err = h.renderXLSX(r, id)
		ext, ct = "xlsx", xlsxContentType
	default:
		httputil.BadRequest(w, "format must be csv or xlsx")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	key, err := h.deps.Archiver.Put(r.Context(), id, ext, ct, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"key": key, "bytes": len(data)})
}

func (h *Handlers) renderCSV(r *http.Request, id string) ([]byte, error) {
	rows, err := h.deps.Analytics.Recipients(r.Context(), id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *Handlers) renderXLSX(r *http.Request, id string) ([]byte, error) {
	ctx := r.Context()
	m, err := h.deps.Analytics.Campaign(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := h.deps.Analytics.Recipients(ctx, id)
	if err != nil {
		return nil, err
	}
	depts, err := h.deps.Analytics.Departments(ctx, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = export.WriteXLSX(&buf, export.Report{
		Campaign:    m.Campaign,
		Metrics:     m.Metrics,
		Recipients:  rows,
		Departments: depts,
	})
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
