package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	sessionHandler "github.com/guiIerme/JobFinder-sub002/internal/handler/session"
	"github.com/guiIerme/JobFinder-sub002/internal/handler/ws"
	"github.com/guiIerme/JobFinder-sub002/internal/middleware"
	"github.com/guiIerme/JobFinder-sub002/pkg/utils"
)

// NewRouter wires HTTP routes to the gateway and the REST handlers.
func NewRouter(gateway *ws.Gateway, sessions *sessionHandler.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		gateway.RegisterRoutes(api)
		sessions.RegisterRoutes(api)
	})

	return r
}
