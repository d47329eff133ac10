package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/httputil"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/template"
)

const maxImportBytes = 10 << 20

// ---- templates ----

// ListTemplates handles GET /api/templates?active=true
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Campaigns.ListTemplates(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	httputil.OK(w, list)
}

// CreateTemplate handles POST /api/templates
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in campaign.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	t, err := h.deps.Campaigns.CreateTemplate(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, t)
}

// GetTemplate handles GET /api/templates/{templateID}
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Campaigns.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, t)
}

// UpdateTemplate handles PUT /api/templates/{templateID}
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in campaign.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	t, err := h.deps.Campaigns.UpdateTemplate(r.Context(), chi.URLParam(r, "templateID"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, t)
}

// ValidateTemplate checks placeholders and previews the phishing indicators
// without saving anything.
//
//	POST /api/templates/validate
func (h *Handlers) ValidateTemplate(w http.ResponseWriter, r *http.Request) {
	var in campaign.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if err := template.Validate(in.Subject, in.HTMLContent); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"valid":        true,
		"placeholders": template.Placeholders(in.Subject + "\n" + in.HTMLContent),
		"indicators":   template.Indicators(in.Subject, in.HTMLContent),
	})
}

// ---- campaigns ----

// ListCampaigns handles GET /api/campaigns?status=&page=&limit=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r, 50, 200)
	list, total, err := h.deps.Campaigns.List(r.Context(), campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, NewPaginatedResponse(list, p, total))
}

// CreateCampaign handles POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.deps.Campaigns.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign handles GET /api/campaigns/{campaignID}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{campaignID}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Campaigns.Delete(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListRecipients handles GET /api/campaigns/{campaignID}/targets
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Campaigns.Recipients(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Recipient{}
	}
	httputil.OK(w, list)
}

type attachRequest struct {
	Targets []domain.Target `json:"targets"`
}

// AttachTargets handles POST /api/campaigns/{campaignID}/targets
func (h *Handlers) AttachTargets(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	n, err := h.deps.Campaigns.AttachTargets(r.Context(), chi.URLParam(r, "campaignID"), req.Targets)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"attached": n})
}

// ImportTargets enrolls targets from a CSV upload, either a multipart
// "file" field or a raw text/csv body. Bad rows are skipped and reported.
//
//	POST /api/campaigns/{campaignID}/targets/import
func (h *Handlers) ImportTargets(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		f, _, err := r.FormFile("file")
		if err != nil {
			httputil.BadRequest(w, "missing file field")
			return
		}
		defer f.Close()
		body = f
	}

	targets, rowErrs, err := campaign.ParseTargetsCSV(body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rowErrs == nil {
		rowErrs = []campaign.RowError{}
	}
	if len(targets) == 0 {
		httputil.JSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error:   campaign.ErrNoTargets.Error(),
			Details: map[string]any{"errors": rowErrs},
		})
		return
	}
	n, err := h.deps.Campaigns.AttachTargets(r.Context(), chi.URLParam(r, "campaignID"), targets)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"attached": n,
		"parsed":   len(targets),
		"errors":   rowErrs,
	})
}

type consentRequest struct {
	Verified *bool `json:"verified"`
}

// VerifyConsent handles POST /api/campaigns/{campaignID}/consent. An empty
// body means verified.
func (h *Handlers) VerifyConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	verified := req.Verified == nil || *req.Verified
	if err := h.deps.Campaigns.VerifyConsent(r.Context(), chi.URLParam(r, "campaignID"), verified); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"consent_verified": verified})
}

// LaunchCampaign returns 202 once the dispatch job is queued; sending
// continues in the workers.
//
//	POST /api/campaigns/{campaignID}/launch
func (h *Handlers) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Campaigns.Launch(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Accepted(w, c)
}

// PauseCampaign handles POST /api/campaigns/{campaignID}/pause
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deps.Campaigns.Pause, http.StatusOK)
}

// ResumeCampaign handles POST /api/campaigns/{campaignID}/resume
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deps.Campaigns.Resume, http.StatusAccepted)
}

// CompleteCampaign handles POST /api/campaigns/{campaignID}/complete
func (h *Handlers) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.deps.Campaigns.Complete, http.StatusOK)
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error, status int) {
	id := chi.URLParam(r, "campaignID")
	if err := op(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	c, err := h.deps.Campaigns.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.JSON(w, status, c)
}

// TargetEvents handles GET /api/campaign-targets/{campaignTargetID}/events
func (h *Handlers) TargetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.deps.Tracking.History(r.Context(), chi.URLParam(r, "campaignTargetID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []domain.EmailEvent{}
	}
	httputil.OK(w, events)
}
