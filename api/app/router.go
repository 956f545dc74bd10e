package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"videoLabeler/api/handlers"
	"videoLabeler/api/middleware"
)

// NewRouter mounts every endpoint of the server on a chi router.
func NewRouter(s *State) http.Handler {
	videos := handlers.NewVideoHandler(s.Videos, s.Config.MaxFileSize, s.Logger.Named("http"))
	labels := handlers.NewLabelHandler(s.Labels, s.Logger.Named("http"))
	health := handlers.NewHealthHandler(s, s.Logger.Named("http"))

	r := chi.NewRouter()
	r.Use(middleware.TraceID)
	r.Use(middleware.Logging(s.Logger.Named("http")))
	r.Use(middleware.Recovery(s.Logger.Named("http")))

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/app/v0", func(r chi.Router) {
		r.Post("/rpc/UploadVideo", videos.Upload)
		r.Post("/rpc/GetVideoStatus", videos.Status)
		r.Get("/sse/TranscodeVideo", videos.Transcode)

		r.Post("/rpc/writeMultifile", labels.WriteMultifile)
		r.Post("/rpc/save_mvframe", labels.SaveMvFrame)
		r.Post("/rpc/addToUnlabeledSidecars", labels.AddToUnlabeled)
	})

	return r
}
