package template

import (
	"fmt"
	"strings"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/token"
)

// SecurityBanner is prepended to the HTML body of every outbound email.
const SecurityBanner = `<div style="background-color: #fff3cd; color: #856404; padding: 10px; margin: 20px 0; border: 1px solid #ffeaa7; border-radius: 4px; text-align: center; font-size: 12px;">` +
	`&#9888;&#65039; <strong>SECURITY TRAINING TEST</strong> - This is a simulated phishing email for security awareness training.` +
	`</div>`

// Sender describes the simulated sender identity for a dispatch run.
type Sender struct {
	Name    string
	Email   string
	Company string
}

// Render substitutes every {{name}} present in vars. Placeholders without
// a value are left verbatim.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// WithSecurityBanner prepends the fixed training banner.
func WithSecurityBanner(html string) string {
	return SecurityBanner + "\n" + html
}

// TrackingURL builds the public URL for a trigger kind ("open" or "click").
func TrackingURL(baseURL, kind, tok string) string {
	return fmt.Sprintf("%s/track/%s/%s", strings.TrimRight(baseURL, "/"), kind, tok)
}

// Variables builds the substitution values for one recipient.
func Variables(r domain.Recipient, campaign *domain.Campaign, sender Sender, baseURL string) map[string]string {
	firstName := r.Target.FirstName
	if firstName == "" {
		firstName = "User"
	}
	department := r.Target.Department
	if department == "" {
		department = "Unknown"
	}
	company := sender.Company
	if company == "" {
		company = "Your Company"
	}
	senderName := sender.Name
	if senderName == "" {
		senderName = "IT Security Team"
	}
	campaignName := ""
	if campaign != nil {
		campaignName = campaign.Name
	}

	return map[string]string{
		VarFirstName:      firstName,
		VarLastName:       r.Target.LastName,
		VarEmail:          r.Target.Email,
		VarDepartment:     department,
		VarCompany:        company,
		VarCampaignName:   campaignName,
		VarSenderName:     senderName,
		VarSenderEmail:    sender.Email,
		VarTrackingNumber: token.TrackingNumber(r.Token),
		VarClickURL:       TrackingURL(baseURL, "click", r.Token),
		VarTrackingPixel: fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="tracking pixel">`,
			TrackingURL(baseURL, "open", r.Token)),
	}
}

// Message is a fully rendered email ready for the mail capability.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Compose renders subject and body for one recipient and applies the banner.
func Compose(tpl *domain.Template, r domain.Recipient, campaign *domain.Campaign, sender Sender, baseURL string) Message {
	vars := Variables(r, campaign, sender, baseURL)
	return Message{
		To:      r.Target.Email,
		Subject: Render(tpl.Subject, vars),
		HTML:    WithSecurityBanner(Render(tpl.HTMLContent, vars)),
	}
}
