package app

import (
	"github.com/osvaldoandrade/felanmalan/internal/controllers"
	"github.com/osvaldoandrade/felanmalan/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	api := app.Engine.Group(app.Config.BasePath)
	{
		api.POST("/errands", middleware.RateLimitErrands(app.RateLimiter, app.Config), controllers.NewCreateErrandController(app.Errands).Handle)
		api.GET("/errands", controllers.NewListErrandsController(app.Errands).Handle)
		api.GET("/errands/:errandId/attachments/:attachmentId", controllers.NewGetAttachmentController(app.Errands).Handle)
		api.GET("/health/up", controllers.NewHealthController().Handle)
	}

	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
