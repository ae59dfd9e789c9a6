package router // package router defines how HTTP routes are registered for the API

import (
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/config"
	"github.com/iliyamo/eno-chat/internal/handler"
	"github.com/iliyamo/eno-chat/internal/middleware"
)

// Deps is everything the routes need.  Redis and Cache may be nil, which
// disables rate limiting and list caching respectively.
type Deps struct {
	Auth      *handler.AuthHandler
	Messages  *handler.MessageHandler
	Health    *handler.HealthHandler
	Tokens    middleware.TokenVerifier
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
	Cache     *middleware.ResponseCache
	Log       *zap.Logger
}

// jsonBodyLimit caps JSON request bodies.  Uploads carry their own limit.
const jsonBodyLimit = "64K"

// New returns an Echo instance with the global middleware installed and all
// routes registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Log))
	e.Use(middleware.Metrics())

	RegisterRoutes(e, d)
	return e
}

// RegisterRoutes maps every endpoint onto e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	// Operational endpoints; no auth.
	e.GET("/health", d.Health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Attachments are addressed by unguessable generated names.
	e.GET(uploadRoute(d.Messages.PublicPath), d.Messages.ServeUpload)

	// Register and login carry no identity yet: a tighter bucket keyed by IP.
	authLimit := middleware.NewTokenBucket(d.RateLimit.ForAuth(), d.Redis, d.Log)
	e.POST("/register", d.Auth.Register, echomw.BodyLimit(jsonBodyLimit), authLimit)
	e.POST("/login", d.Auth.Login, echomw.BodyLimit(jsonBodyLimit), authLimit)

	// JWTAuth runs first so the limiter and the cache see the user.  Route
	// level middleware rather than a root group keeps unknown paths at 404.
	authed := []echo.MiddlewareFunc{
		middleware.JWTAuth(d.Tokens),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log),
	}
	e.POST("/messages", d.Messages.Send, with(authed, echomw.BodyLimit(jsonBodyLimit))...)
	e.GET("/messages", d.Messages.List, with(authed, d.Cache.Middleware())...)
	e.POST("/upload", d.Messages.Upload, authed...)
}

func with(base []echo.MiddlewareFunc, extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(base)+len(extra))
	return append(append(out, base...), extra...)
}

// uploadRoute turns the public attachment prefix into the route serving it.
// An absolute URL (a CDN or proxy in front of the service) contributes only
// its path.
func uploadRoute(publicPath string) string {
	p := publicPath
	if u, err := url.Parse(publicPath); err == nil && u.Host != "" {
		p = u.Path
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return "/:name"
	}
	return "/" + p + "/:name"
}
