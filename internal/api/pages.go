package api

import (
	"embed"
	"fmt"

	"github.com/osteele/liquid"

	"github.com/ignite/phishsim/internal/template"
)

//go:embed templates/*
var pageFS embed.FS

var (
	landingPage   *liquid.Template
	educationPage *liquid.Template
	quizPage      *liquid.Template
	feedbackPage  *liquid.Template
	notFoundPage  []byte
)

var educationTips = []string{
	"Check the sender address, not only the display name.",
	"Hover over links before clicking and compare the domain.",
	"Be wary of urgency, threats and requests to act immediately.",
	"Generic greetings such as \"Dear customer\" are a common sign.",
	"Never enter your password on a page you reached from an email link.",
}

type quizQuestion struct {
	Prompt      string
	Choices     []string
	Answer      string
	Explanation string
}

var quizQuestions = []quizQuestion{
	{
		Prompt:      "An email from \"IT Support <helpdesk@it-support-secure.com>\" asks you to reset your password today. What stands out?",
		Choices:     []string{"Nothing, IT often sends these", "The sender domain is not your company's", "The message is too short"},
		Answer:      "The sender domain is not your company's.",
		Explanation: "Display names are free to set. The domain after the @ tells you who really sent it.",
	},
	{
		Prompt:      "A link reads https://yourbank.com but hovering shows https://bit.ly/3xYz. What should you do?",
		Choices:     []string{"Click, the text says yourbank.com", "Do not click and report the message", "Forward it to a colleague to check"},
		Answer:      "Do not click and report the message.",
		Explanation: "Link text can say anything. Shortened or mismatched destinations hide where you will land.",
	},
	{
		Prompt:      "\"Your account will be suspended in 24 hours unless you verify now.\" Which tactic is this?",
		Choices:     []string{"Urgency and threat", "Routine notice", "Marketing"},
		Answer:      "Urgency and threat.",
		Explanation: "Pressure to act immediately is meant to stop you from checking the request.",
	},
	{
		Prompt:      "You already entered your password on a suspicious page. What is the first step?",
		Choices:     []string{"Wait and see", "Change the password and tell the security team", "Delete the email"},
		Answer:      "Change the password and tell the security team.",
		Explanation: "Fast reporting lets the team lock the account and look for misuse.",
	},
}

var feedbackPrompts = []string{
	"Did you recognise the email as a simulation before opening the link?",
	"Which warning sign would have helped you most?",
	"Was the explanation on the landing page clear?",
	"What would make this training more useful?",
}

func init() {
	engine := liquid.NewEngine()
	landingPage = mustParse(engine, "templates/landing.liquid")
	educationPage = mustParse(engine, "templates/education.liquid")
	quizPage = mustParse(engine, "templates/quiz.liquid")
	feedbackPage = mustParse(engine, "templates/feedback.liquid")
	b, err := pageFS.ReadFile("templates/not_found.html")
	if err != nil {
		panic(err)
	}
	notFoundPage = b
}

func mustParse(engine *liquid.Engine, name string) *liquid.Template {
	src, err := pageFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	tpl, perr := engine.ParseString(string(src))
	if perr != nil {
		panic(fmt.Sprintf("parse %s: %v", name, perr))
	}
	return tpl
}

// landingBindings is what the click page renders.
type landingBindings struct {
	FirstName    string
	CampaignName string
	Company      string
	SubmitURL    string
	Indicators   []template.Indicator
}

func renderLanding(b landingBindings) (string, error) {
	inds := make([]map[string]any, 0, len(b.Indicators))
	for _, ind := range b.Indicators {
		inds = append(inds, map[string]any{
			"type":        ind.Type,
			"description": ind.Description,
			"severity":    ind.Severity,
		})
	}
	out, err := landingPage.RenderString(liquid.Bindings{
		"first_name":    b.FirstName,
		"campaign_name": b.CampaignName,
		"company":       b.Company,
		"submit_url":    b.SubmitURL,
		"indicators":    inds,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func renderEducation() (string, error) {
	out, err := educationPage.RenderString(liquid.Bindings{"tips": educationTips})
	if err != nil {
		return "", err
	}
	return out, nil
}

func renderQuiz() (string, error) {
	qs := make([]map[string]any, 0, len(quizQuestions))
	for _, q := range quizQuestions {
		qs = append(qs, map[string]any{
			"prompt":      q.Prompt,
			"choices":     q.Choices,
			"answer":      q.Answer,
			"explanation": q.Explanation,
		})
	}
	return quizPage.RenderString(liquid.Bindings{"questions": qs})
}

func renderFeedback(company string) (string, error) {
	if company == "" {
		company = "your organisation"
	}
	return feedbackPage.RenderString(liquid.Bindings{"company": company, "prompts": feedbackPrompts})
}
