package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNameRequired     = errors.New("name is required")
	ErrTemplateRequired = errors.New("template_id is required")
	ErrCampaignActive   = errors.New("campaign is active")
	ErrCampaignClosed   = errors.New("campaign is completed")
	ErrNoTargets        = errors.New("no targets supplied")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrMissingHeader    = errors.New("missing required header: email")
)
