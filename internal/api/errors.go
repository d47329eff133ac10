package api

import (
	"errors"
	"net/http"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/httputil"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/template"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognised is logged and answered with a generic 500 so
// internals never reach the client.
func writeServiceError(w http.ResponseWriter, err error) {
	if pe, ok := domain.IsPrecondition(err); ok {
		httputil.ErrorCode(w, http.StatusConflict, pe.Condition, pe.Error())
		return
	}
	var ve *template.ValidationError
	if errors.As(err, &ve) {
		httputil.JSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{
			Error:   ve.Error(),
			Code:    "template_invalid",
			Details: map[string]any{"unknown": ve.Unknown},
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrTemplateInvalid):
		httputil.ErrorCode(w, http.StatusUnprocessableEntity, "template_invalid", err.Error())
	case errors.Is(err, campaign.ErrCampaignActive),
		errors.Is(err, campaign.ErrCampaignClosed),
		errors.Is(err, domain.ErrInvalidTransition):
		httputil.ErrorCode(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, campaign.ErrNameRequired),
		errors.Is(err, campaign.ErrTemplateRequired),
		errors.Is(err, campaign.ErrNoTargets),
		errors.Is(err, campaign.ErrInvalidEmail),
		errors.Is(err, campaign.ErrMissingHeader):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
