package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/phishsim/internal/pkg/telemetry"
)

// NewRouter wires the public tracking endpoints and the /api admin surface.
func NewRouter(h *Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if h.deps.Health != nil {
		r.Get("/health", h.deps.Health.HandleHealth)
		r.Get("/health/live", h.deps.Health.HandleLiveness)
		r.Get("/health/ready", h.deps.Health.HandleReadiness)
	}
	r.Handle("/metrics", telemetry.Handler())

	// Tracking links are embedded in sent mail, so both the short and the
	// /track forms are served.
	for _, prefix := range []string{"", "/track"} {
		r.Get(prefix+"/open/{token}", h.TrackOpen)
		r.Get(prefix+"/click/{token}", h.TrackClick)
		r.Post(prefix+"/submit/{token}", h.TrackSubmit)
	}
	r.Get("/education", h.Education)
	r.Get("/quiz", h.Quiz)
	r.Get("/feedback", h.Feedback)

	r.Route("/api", func(r chi.Router) {
		r.Get("/overview", h.Overview)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Post("/validate", h.ValidateTemplate)
			r.Get("/{templateID}", h.GetTemplate)
			r.Put("/{templateID}", h.UpdateTemplate)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Delete("/", h.DeleteCampaign)

				r.Get("/targets", h.ListRecipients)
				r.Post("/targets", h.AttachTargets)
				r.Post("/targets/import", h.ImportTargets)

				r.Post("/consent", h.VerifyConsent)
				r.Post("/launch", h.LaunchCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/complete", h.CompleteCampaign)

				r.Get("/metrics", h.CampaignMetrics)
				r.Get("/departments", h.DepartmentBreakdown)
				r.Get("/timeline", h.Timeline)
				r.Get("/engagement", h.Engagement)

				r.Get("/export.csv", h.ExportCSV)
				r.Get("/export.xlsx", h.ExportXLSX)
				r.Post("/export/archive", h.ArchiveExport)
			})
		})

		r.Get("/campaign-targets/{campaignTargetID}/events", h.TargetEvents)
	})

	return r
}
