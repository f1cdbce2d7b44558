package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/climate-assistant/backend/internal/handler/chat"
	"github.com/zhouzirui/climate-assistant/backend/internal/handler/condition"
	"github.com/zhouzirui/climate-assistant/backend/internal/handler/stream"
	"github.com/zhouzirui/climate-assistant/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/climate-assistant/backend/internal/middleware"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	chatService "github.com/zhouzirui/climate-assistant/backend/internal/service/chat"
	"github.com/zhouzirui/climate-assistant/backend/pkg/utils"
)

// LandingText is served at the root for participants who open the API directly.
const LandingText = "Welcome to the Climate Change AI Assistant. If you reached this page directly, please return to the provided link."

// NewRouter wires HTTP routes to core services.
func NewRouter(conditions experiment.Store, chatSvc *chatService.Service, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	origins := middlewarePkg.Origins(allowedOrigins)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(origins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"assistant": chatSvc.AssistantEnabled(),
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(LandingText))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.ClientSession)

		condition.New(conditions).RegisterRoutes(api)
		chat.New(chatSvc, conditions).RegisterRoutes(api)
		stream.New(chatSvc, conditions, logger).RegisterRoutes(api)
		ws.New(chatSvc, conditions, origins, logger).RegisterRoutes(api)
	})

	return r
}
