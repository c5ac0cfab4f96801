package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/shopmate/backend/internal/handler/chat"
	"github.com/zhouzirui/shopmate/backend/internal/handler/prompt"
	"github.com/zhouzirui/shopmate/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/shopmate/backend/internal/middleware"
	promptModel "github.com/zhouzirui/shopmate/backend/internal/model/prompt"
	chatService "github.com/zhouzirui/shopmate/backend/internal/service/chat"
	"github.com/zhouzirui/shopmate/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(prompts promptModel.Store, chatSvc *chatService.Service, sessions chat.SessionDirectory, resolver chat.ProductResolver, logger *logrus.Logger) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	promptHandler := prompt.New(prompts)
	chatHandler := chat.New(chatSvc, sessions, resolver, logger)
	streamHandler := stream.New(chatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		promptHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
