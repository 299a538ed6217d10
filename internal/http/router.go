package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/formica-tech/formic-api/internal/config"
	"github.com/formica-tech/formic-api/internal/http/handler"
	"github.com/formica-tech/formic-api/internal/http/middleware"
	"github.com/formica-tech/formic-api/internal/metrics"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, identityHandler *handler.IdentityHandler, authMiddleware *middleware.Auth, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", identityHandler.Login)
		authGroup.POST("/signup", identityHandler.SignUp)
		authGroup.POST("/forgot", identityHandler.ForgotPassword)
		authGroup.POST("/restore", identityHandler.RestorePassword)

		authGroup.POST("/verify", authMiddleware.RequireUser, identityHandler.Verify)
		authGroup.POST("/resend", authMiddleware.RequireUser, identityHandler.ResendCode)

		me := authGroup.Group("/me", authMiddleware.RequireUser)
		{
			me.GET("", identityHandler.Me)
			me.POST("/picture", identityHandler.UploadProfilePicture)
			me.GET("/picture", identityHandler.ProfilePicture)
		}
	}

	r.GET("/healthz", identityHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	return r
}
