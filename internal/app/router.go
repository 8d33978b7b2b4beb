package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/handler"
	"github.com/noah-isme/course-review-api/internal/middleware"
	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/config"
	"github.com/noah-isme/course-review-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-review-api/pkg/middleware/requestid"
)

// Handlers bundles every HTTP handler mounted by the router.
type Handlers struct {
	Auth      *handler.AuthHandler
	Courses   *handler.CourseHandler
	Reviews   *handler.ReviewHandler
	Responses *handler.ReviewResponseHandler
	Users     *handler.UserHandler
	Metrics   *handler.MetricsHandler
}

// NewRouter builds the gin engine with the middleware chain and all routes.
func NewRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, tokens middleware.TokenValidator, accounts middleware.AccountLoader, audit middleware.AuditRecorder, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authRequired := middleware.JWT(tokens, accounts)
	optionalAuth := middleware.OptionalJWT(tokens, accounts)
	admin := middleware.RequireRoles(models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)
	teacher := middleware.RequireRoles(models.RoleTeacher)
	courseAudit := func(action string) gin.HandlerFunc {
		return middleware.Audit(audit, logr, action, "courses")
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.GET("/me", authRequired, h.Auth.Me)
	auth.POST("/change-password", authRequired, h.Auth.ChangePassword)
	auth.GET("/check-username", h.Auth.CheckUsername)
	auth.GET("/check-email", h.Auth.CheckEmail)

	courses := api.Group("/courses")
	courses.GET("", optionalAuth, h.Courses.List)
	courses.GET("/departments", h.Courses.Departments)
	courses.GET("/top-rated", h.Courses.TopRated)
	courses.GET("/recent", h.Courses.Recent)
	courses.GET("/mine", authRequired, teacher, h.Courses.ListMine)
	courses.GET("/teacher/:teacherId", optionalAuth, h.Courses.ListByTeacher)
	courses.GET("/statistics/export", authRequired, admin, h.Courses.ExportStatistics)
	courses.GET("/:id", optionalAuth, h.Courses.Get)
	courses.GET("/:id/reviews", h.Reviews.ListForCourse)
	courses.GET("/:id/statistics", h.Courses.Statistics)
	courses.POST("", authRequired, admin, courseAudit(models.AuditActionCourseCreate), h.Courses.Create)
	courses.PUT("/:id", authRequired, admin, courseAudit(models.AuditActionCourseUpdate), h.Courses.Update)
	courses.PATCH("/:id/activate", authRequired, admin, courseAudit(models.AuditActionCourseActivate), h.Courses.Activate)
	courses.PATCH("/:id/deactivate", authRequired, admin, courseAudit(models.AuditActionCourseDeactivate), h.Courses.Deactivate)

	reviews := api.Group("/reviews")
	reviews.GET("/recent", h.Reviews.ListRecent)
	reviews.GET("/me", authRequired, student, h.Reviews.ListMine)
	reviews.GET("/check/:courseId", authRequired, student, h.Reviews.Check)
	reviews.GET("/teacher", authRequired, teacher, h.Reviews.ListForTeacher)
	reviews.GET("/pending", authRequired, admin, h.Reviews.ListPending)
	reviews.GET("/pending/count", authRequired, admin, h.Reviews.CountPending)
	reviews.GET("/:id", optionalAuth, h.Reviews.Get)
	// Ownership and role rules for these live in the service gate.
	reviews.POST("", authRequired, h.Reviews.Create)
	reviews.PUT("/:id", authRequired, h.Reviews.Update)
	reviews.DELETE("/:id", authRequired, h.Reviews.Delete)
	reviews.PATCH("/:id/moderate", authRequired, h.Reviews.Moderate)
	reviews.POST("/:id/response", authRequired, h.Responses.Add)
	reviews.PUT("/:id/response", authRequired, h.Responses.Update)
	reviews.DELETE("/:id/response", authRequired, h.Responses.Delete)

	users := api.Group("/users", authRequired, admin)
	users.GET("", h.Users.List)
	users.GET("/counts", h.Users.Counts)
	users.GET("/:id", h.Users.Get)
	users.PATCH("/:id/role", h.Users.UpdateRole)
	users.PATCH("/:id/activate", h.Users.Activate)
	users.PATCH("/:id/deactivate", h.Users.Deactivate)
	users.DELETE("/:id", h.Users.Delete)

	api.GET("/admin/metrics", authRequired, admin, h.Metrics.Summary)

	return r
}
