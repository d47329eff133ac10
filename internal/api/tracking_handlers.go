package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/httputil"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/service/tracking"
	"github.com/ignite/phishsim/internal/template"
)

// transparentGIF is a 1x1 transparent GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// maxSubmitBody bounds how much of a credential form is read before it is
// thrown away.
const maxSubmitBody = 64 << 10

const submitThanks = "Thank you for participating in this security awareness training."

func (h *Handlers) trackingRequest(r *http.Request) tracking.Request {
	return tracking.Request{
		Token:     chi.URLParam(r, "token"),
		IP:        h.deps.TrustedProxies.ClientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func setRetryAfter(w http.ResponseWriter, rl *tracking.RateLimitError) {
	secs := int(rl.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// TrackOpen serves the tracking pixel. Mail clients get the image even when
// recording fails; only unknown tokens and exhausted budgets get an empty
// error response.
//
//	GET /open/{token}
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	req := h.trackingRequest(r)
	_, err := h.deps.Tracking.Open(r.Context(), req)

	var rl *tracking.RateLimitError
	switch {
	case errors.As(err, &rl):
		setRetryAfter(w, rl)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	case errors.Is(err, domain.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case err != nil:
		logger.Error("open tracking failed", "token", logger.RedactToken(req.Token), "error", err)
	}

	noCache(w)
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(transparentGIF)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// TrackClick records the click and renders the training landing page.
//
//	GET /click/{token}
func (h *Handlers) TrackClick(w http.ResponseWriter, r *http.Request) {
	req := h.trackingRequest(r)
	res, err := h.deps.Tracking.Click(r.Context(), req)

	var rl *tracking.RateLimitError
	switch {
	case errors.As(err, &rl):
		setRetryAfter(w, rl)
		writeHTML(w, http.StatusTooManyRequests, []byte("<p>Too many requests. Please try again later.</p>"))
		return
	case errors.Is(err, domain.ErrNotFound):
		writeHTML(w, http.StatusNotFound, notFoundPage)
		return
	case err != nil:
		logger.Error("click tracking failed", "token", logger.RedactToken(req.Token), "error", err)
		writeHTML(w, http.StatusInternalServerError, []byte("<p>Something went wrong.</p>"))
		return
	}

	b := landingBindings{
		Company:    h.deps.Company,
		SubmitURL:  "/track/submit/" + req.Token,
		Indicators: res.Indicators,
	}
	if enr := res.Enrollment; enr != nil {
		if enr.Target != nil {
			b.FirstName = enr.Target.FirstName
		}
		if enr.Campaign != nil {
			b.CampaignName = enr.Campaign.Name
		}
	}
	if len(b.Indicators) == 0 {
		b.Indicators = template.Indicators("", "")
	}
	page, err := renderLanding(b)
	if err != nil {
		logger.Error("render landing page failed", "error", err)
		writeHTML(w, http.StatusInternalServerError, []byte("<p>Something went wrong.</p>"))
		return
	}
	noCache(w)
	writeHTML(w, http.StatusOK, []byte(page))
}

// TrackSubmit records a form submission. The body is drained and dropped
// unread so nothing a recipient typed is ever stored.
//
//	POST /submit/{token}
func (h *Handlers) TrackSubmit(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxSubmitBody))

	req := h.trackingRequest(r)
	_, err := h.deps.Tracking.Submit(r.Context(), req)

	var rl *tracking.RateLimitError
	switch {
	case errors.As(err, &rl):
		httputil.TooManyRequests(w, rl.RetryAfter, "Too many submissions")
		return
	case errors.Is(err, domain.ErrNotFound):
		httputil.NotFound(w, "Invalid token")
		return
	case err != nil:
		logger.Error("submit tracking failed", "token", logger.RedactToken(req.Token), "error", err)
		httputil.Error(w, http.StatusInternalServerError, "An error occurred")
		return
	}
	httputil.OK(w, map[string]any{
		"success":   true,
		"message":   submitThanks,
		"next_step": "education",
	})
}

// Education serves the static phishing awareness tips.
//
//	GET /education
func (h *Handlers) Education(w http.ResponseWriter, r *http.Request) {
	servePage(w, "education", renderEducation)
}

// Quiz serves the self-check questions.
//
//	GET /quiz
func (h *Handlers) Quiz(w http.ResponseWriter, r *http.Request) {
	servePage(w, "quiz", renderQuiz)
}

// Feedback asks the recipient how the exercise went.
//
//	GET /feedback
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	servePage(w, "feedback", func() (string, error) { return renderFeedback(h.deps.Company) })
}

func servePage(w http.ResponseWriter, name string, render func() (string, error)) {
	page, err := render()
	if err != nil {
		logger.Error("render page failed", "page", name, "error", err)
		writeHTML(w, http.StatusInternalServerError, []byte("<p>Something went wrong.</p>"))
		return
	}
	writeHTML(w, http.StatusOK, []byte(page))
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
