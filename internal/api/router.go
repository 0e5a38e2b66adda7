package api

import (
	"github.com/gin-gonic/gin"
)

func (srv *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), srv.requestLogger(), srv.recovery())

	r.GET("/healthz", srv.healthz)
	r.GET("/metrics", gin.WrapH(srv.metrics.Handler()))

	apiGroup := r.Group("/api", srv.authenticate())
	{
		apiGroup.GET("/meta", srv.metaList)
		apiGroup.GET("/meta/:module/:entity", srv.metaEntity)
		if srv.cfg.Server.Admin {
			apiGroup.POST("/_admin/reload", srv.adminReload)
		}

		res := apiGroup.Group("/:module/:entity", srv.resource())
		read := []gin.HandlerFunc{srv.responseCache(), srv.queryable()}

		// служебные маршруты: раньше :id
		res.GET("/count", append(read, srv.count)...)
		res.GET("/_count", append(read, srv.count)...)

		res.GET("", append(read, srv.index)...)
		res.GET("/:id", append(read, srv.show)...)
		// запись тоже проходит через queryable: точка query ограничивает,
		// какие записи можно изменить или удалить
		write := []gin.HandlerFunc{srv.queryable()}
		res.POST("", append(write, srv.create)...)
		res.PUT("/:id", append(write, srv.update)...)
		res.PATCH("/:id", append(write, srv.update)...)
		res.DELETE("/:id", append(write, srv.remove)...)
	}
	return r
}
