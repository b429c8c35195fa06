package api

import (
	"net/http"

	authdelivery "github.com/elie222/inbox-zero-sub019/internal/auth/delivery"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	queueusecase "github.com/elie222/inbox-zero-sub019/internal/queue/usecase"

	"github.com/gin-gonic/gin"
)

// Router builds the HTTP surface: webhooks, queue delivery, and the
// authenticated management API.
func (a *App) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), cors())

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	a.webhook.Register(api)

	authHTTP := authdelivery.NewAuthHandler(a.auth)
	authHTTP.RegisterPublic(api)

	queue := api.Group("/queue")
	queue.Use(a.queueHTTP.RequireSecret())
	{
		queue.GET("/parked", a.queueHTTP.ListParked)
		queue.POST("/parked/:id/retry", a.queueHTTP.RetryParked)
	}
	for _, url := range []string{
		queuedomain.URLReconcile,
		queuedomain.URLProcessMessage,
		queuedomain.URLDigestCompile,
		queuedomain.URLBulk,
	} {
		r.POST(url, a.queueHTTP.RequireSecret(), a.queueHTTP.Deliver)
	}

	protected := api.Group("")
	protected.Use(authdelivery.AuthMiddleware(a.auth))
	{
		authHTTP.Register(protected)
		a.ruleHTTP.Register(protected)
		a.digestHTTP.Register(protected)
		a.execHTTP.Register(protected)
	}

	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+queueusecase.SecretHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
