// Package server assembles the gin engine and its routes.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/filipjov/askoro/internal/config"
	"github.com/filipjov/askoro/internal/handler"
	"github.com/filipjov/askoro/internal/server/middleware"
	"github.com/filipjov/askoro/internal/service"
)

// slackBodyLimit caps slash-command payloads. Slack commands are small
// form posts; anything larger is not a legitimate command.
const slackBodyLimit = 64 << 10

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	OAuth         *handler.OAuthHandler
	Sync          *handler.SyncHandler
	DataSource    *handler.DataSourceHandler
	KnowledgeBase *handler.KnowledgeBaseHandler
	Slack         *handler.SlackHandler
}

var providers = []service.Provider{
	service.ProviderConfluence,
	service.ProviderGitHub,
	service.ProviderGoogleDrive,
	service.ProviderNotion,
	service.ProviderOneDrive,
	service.ProviderQuip,
}

// NewRouter builds the gin engine with all routes mounted. limiter may be
// nil when Redis is not configured.
func NewRouter(cfg *config.Config, h Handlers, limiter *middleware.RateLimiter) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS(cfg.CORS))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	queryLimit := func() gin.HandlerFunc {
		if limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return limiter.Limit("query", int64(cfg.RateLimit.QueriesPerMinute), time.Minute)
	}()

	api := engine.Group("/api")

	// Slack authenticates its own requests with a signed header.
	api.POST("/slack/command", middleware.RequestBodyLimit(slackBodyLimit), queryLimit, h.Slack.Command)

	authed := api.Group("", middleware.JWTAuth(cfg.Auth.JWTSecret))
	for _, p := range providers {
		seg := p.Segment()
		authed.POST("/"+seg+"/oauth/start", h.OAuth.Start(p))
		// Callbacks arrive as browser redirects; the JWT middleware reads
		// the auth cookie for them.
		authed.GET("/"+seg+"/oauth/callback", h.OAuth.Callback(p))
		authed.POST("/sync/"+seg, h.Sync.Sync(p))
	}

	authed.GET("/data-sources", h.DataSource.List)
	authed.DELETE("/data-sources/:id", h.DataSource.Delete)
	authed.GET("/google/folders", h.DataSource.ListDriveFolders)
	authed.POST("/google/select-folder", h.DataSource.SelectDriveFolder)
	authed.POST("/knowledge-base-query", queryLimit, h.KnowledgeBase.Query)

	return engine
}
