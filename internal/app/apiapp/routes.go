package apiapp

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avoronin/peek/backend/internal/config"
	capturessvc "github.com/avoronin/peek/backend/internal/services/captures"
	feedsvc "github.com/avoronin/peek/backend/internal/services/feed"
	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	itemssvc "github.com/avoronin/peek/backend/internal/services/items"
	viewssvc "github.com/avoronin/peek/backend/internal/services/views"
	"github.com/avoronin/peek/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	ItemService    *itemssvc.Service
	ViewService    *viewssvc.Service
	CaptureService *capturessvc.Service
	FeedService    *feedsvc.Service
	TokenManager   *identitysvc.TokenManager
	ContentStorage *itemssvc.S3ContentStorage
	SweepRunner    handlers.SweepRunner
	PreviewURLTTL  time.Duration
	Logger         *zap.Logger
	Config         config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	itemsHandler := handlers.NewItemsHandler(deps.ItemService)
	viewsHandler := handlers.NewViewsHandler(deps.ViewService)
	capturesHandler := handlers.NewCapturesHandler(deps.CaptureService, deps.ContentStorage, deps.PreviewURLTTL)
	feedHandler := handlers.NewFeedHandler(deps.FeedService)
	sweepHandler := handlers.NewSweepHandler(deps.SweepRunner)

	identityMW := IdentityMiddleware(deps.TokenManager, deps.Logger)
	sweepMW := SweepAuthMiddleware(deps.Config.Auth.SweepToken)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/items", func(r chi.Router) {
		r.Use(identityMW)
		r.Post("/", itemsHandler.Create)
		r.Get("/{id}", itemsHandler.Get)
		r.Delete("/{id}", itemsHandler.Delete)
		r.Get("/{id}/viewability", viewsHandler.Viewability)
		r.Post("/{id}/views", viewsHandler.Record)
		r.Post("/{id}/captures", capturesHandler.Record)
	})

	r.With(identityMW).Get("/captures", capturesHandler.List)

	r.Route("/feed", func(r chi.Router) {
		r.Use(identityMW)
		r.Get("/direct", feedHandler.Direct)
		r.Post("/broadcast", feedHandler.Broadcast)
	})

	r.With(sweepMW).Post("/internal/sweep", sweepHandler.Trigger)
}
