package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-fee-ledger/internal/middleware"
	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/pkg/config"
	"github.com/noah-isme/sma-fee-ledger/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-fee-ledger/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-fee-ledger/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, app *application, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))

	r.GET("/health", app.ops.Health)
	r.GET("/ready", app.ops.Ready)
	r.GET("/metrics", app.ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", app.auth.Login)
	api.GET("/receipts/download/:token", app.receipts.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.authSvc))
	secured.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))

	secured.POST("/auth/logout", app.auth.Logout)
	secured.GET("/auth/me", app.auth.Me)

	students := secured.Group("/students")
	students.GET("", app.students.List)
	students.POST("", app.students.Enroll)
	students.GET("/export", app.students.Export)
	students.POST("/import", app.students.Import)
	students.GET("/:id", app.students.Get)
	students.PUT("/:id", app.students.Update)
	students.DELETE("/:id", app.students.Delete)
	students.POST("/:id/installments", app.students.PayInstallment)
	students.POST("/:id/promote", app.students.Promote)
	students.GET("/:id/reminder-link", app.students.Reminder)

	extraFees := secured.Group("/extra-fees")
	extraFees.GET("", app.extraFees.List)
	extraFees.POST("", app.extraFees.Create)
	extraFees.GET("/stats", app.extraFees.Stats)
	extraFees.GET("/:id", app.extraFees.Get)
	extraFees.DELETE("/:id", app.extraFees.Delete)
	extraFees.POST("/:id/pay/:studentId", app.extraFees.MarkPaid)
	extraFees.DELETE("/:id/students/:studentId", app.extraFees.RemoveStudent)
	extraFees.GET("/:id/reminder-link/:studentId", app.extraFees.Reminder)

	year := secured.Group("/academic-year")
	year.GET("/stats", app.rollover.Stats)
	year.POST("/rollover", middleware.RequireRoles(models.RoleSuperAdmin), app.rollover.Start)

	reports := secured.Group("/reports")
	reports.GET("/summary", app.reports.Summary)
	reports.GET("/class-wise", app.reports.ClassWise)
	reports.GET("/defaulters", app.reports.Defaulters)
	reports.GET("/dashboard", app.reports.Dashboard)
	reports.GET("/export/:kind", app.reports.Export)

	secured.GET("/logs", app.audit.List)

	return r
}
