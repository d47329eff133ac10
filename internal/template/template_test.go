package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/domain"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		html    string
		wantErr bool
		unknown []string
	}{
		{"plain", "Hello", "<p>body</p>", false, nil},
		{"full vocabulary", "Action for {{first_name}}",
			"<a href=\"{{click_url}}\">{{company}}</a>{{tracking_pixel}} {{tracking_number}}", false, nil},
		{"empty subject", "  ", "<p>x</p>", true, nil},
		{"empty body", "Hi", "", true, nil},
		{"unknown in body", "Hi", "{{password}} and {{first_name}}", true, []string{"password"}},
		{"unknown in subject", "{{ssn}}", "<p>x</p>", true, []string{"ssn"}},
		{"padded placeholder rejected", "Hi", "{{ first_name }}", true, []string{" first_name "}},
		{"duplicates reported once", "{{x}}", "{{x}}{{y}}", true, []string{"x", "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, tt.html)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrTemplateInvalid))
			if tt.unknown != nil {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tt.unknown, ve.Unknown)
				assert.Contains(t, err.Error(), "allowed:")
			}
		})
	}
}

func TestRenderLeavesUnknownVerbatim(t *testing.T) {
	out := Render("Hi {{first_name}}, {{mystery}} {{first_name}}", map[string]string{"first_name": "Ada"})
	assert.Equal(t, "Hi Ada, {{mystery}} Ada", out)
}

func TestRenderIsSinglePass(t *testing.T) {
	// a value containing a placeholder must not be expanded again
	out := Render("{{first_name}}", map[string]string{"first_name": "{{email}}", "email": "x@y.z"})
	assert.Equal(t, "{{email}}", out)
}

func TestVariablesDefaults(t *testing.T) {
	r := domain.Recipient{
		CampaignTarget: domain.CampaignTarget{Token: "abcdefghijklmnop"},
		Target:         domain.Target{Email: "ann@example.com"},
	}
	vars := Variables(r, &domain.Campaign{Name: "Q3 drill"}, Sender{Email: "it@example.com"}, "https://t.example.com/")

	assert.Equal(t, "User", vars[VarFirstName])
	assert.Equal(t, "Unknown", vars[VarDepartment])
	assert.Equal(t, "Your Company", vars[VarCompany])
	assert.Equal(t, "IT Security Team", vars[VarSenderName])
	assert.Equal(t, "Q3 drill", vars[VarCampaignName])
	assert.Equal(t, "ABCDEFGH", vars[VarTrackingNumber])
	assert.Equal(t, "https://t.example.com/track/click/abcdefghijklmnop", vars[VarClickURL])
	assert.Contains(t, vars[VarTrackingPixel], `src="https://t.example.com/track/open/abcdefghijklmnop"`)

	for _, name := range Vocabulary {
		_, ok := vars[name]
		assert.True(t, ok, "missing %s", name)
	}
}

func TestComposeAddsBanner(t *testing.T) {
	tpl := &domain.Template{Subject: "Hello {{first_name}}", HTMLContent: "<p>{{department}}</p>"}
	r := domain.Recipient{
		CampaignTarget: domain.CampaignTarget{Token: "tok12345678"},
		Target:         domain.Target{Email: "bo@example.com", FirstName: "Bo", Department: "Finance"},
	}
	msg := Compose(tpl, r, &domain.Campaign{}, Sender{}, "http://localhost:5000")

	assert.Equal(t, "bo@example.com", msg.To)
	assert.Equal(t, "Hello Bo", msg.Subject)
	assert.True(t, strings.HasPrefix(msg.HTML, SecurityBanner))
	assert.Contains(t, msg.HTML, "<p>Finance</p>")
}

func TestIndicators(t *testing.T) {
	got := Indicators("Security alert: action required",
		`<p>Dear user, verification needed. Visit https://bit.ly/abc or https://login-portal.example.com/x</p>`)

	types := map[string]int{}
	for _, ind := range got {
		types[ind.Type]++
	}
	assert.Equal(t, 1, types["Urgency"])
	assert.Equal(t, 1, types["Threat"])
	assert.Equal(t, 1, types["Generic Greeting"])
	assert.Equal(t, 2, types["Suspicious Link"])
	assert.Equal(t, 1, types["Sender Mismatch"])

	for _, ind := range got {
		if ind.Type == "Suspicious Link" && strings.Contains(ind.Description, "bit.ly") {
			assert.Equal(t, SeverityHigh, ind.Severity)
		}
		if ind.Type == "Suspicious Link" && strings.Contains(ind.Description, "login-") {
			assert.Equal(t, SeverityMedium, ind.Severity)
		}
	}
}

func TestIndicatorsGreetingOnlyInBody(t *testing.T) {
	got := Indicators("Dear customer", "<p>quarterly newsletter</p>")
	require.Len(t, got, 1)
	assert.Equal(t, "Suspicious Email", got[0].Type)
}

func TestIndicatorsPure(t *testing.T) {
	a := Indicators("Urgent", "<p>hurry</p>")
	b := Indicators("Urgent", "<p>hurry</p>")
	assert.Equal(t, a, b)
}
