package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/openlingua/school-api/api/swagger"
	"github.com/openlingua/school-api/internal/handler"
	"github.com/openlingua/school-api/internal/middleware"
	"github.com/openlingua/school-api/internal/models"
	"github.com/openlingua/school-api/internal/repository"
	"github.com/openlingua/school-api/internal/service"
	"github.com/openlingua/school-api/pkg/cache"
	"github.com/openlingua/school-api/pkg/config"
	"github.com/openlingua/school-api/pkg/database"
	"github.com/openlingua/school-api/pkg/jobs"
	"github.com/openlingua/school-api/pkg/logger"
	corsmiddleware "github.com/openlingua/school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openlingua/school-api/pkg/middleware/requestid"
)

// @title OpenLingua School API
// @version 1.0.0
// @description Language school administration: enrollment, attendance and rosters
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API stays up without Redis; roster reads just skip the cache.
		logr.Sugar().Warnw("redis unavailable, roster cache disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Roster.CacheTTL, logr, cfg.Roster.CacheEnabled)
	}

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	classSvc := service.NewClassService(classRepo, enrollmentRepo, cacheSvc, nil, logr)
	studentSvc := service.NewStudentService(studentRepo, userRepo, enrollmentRepo, cacheSvc, nil, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, userRepo, classRepo, cacheSvc, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, classRepo, studentRepo, teacherRepo, cacheSvc, nil, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, classRepo, cacheSvc, nil, logr)
	rosterSvc := service.NewRosterService(attendanceRepo, enrollmentRepo, classRepo, teacherRepo, cacheSvc, cfg.Roster.CacheTTL, logr)

	maintenance := jobs.NewQueue("maintenance", func(ctx context.Context, job jobs.Job) error {
		switch job.Type {
		case "purge-expired-tokens":
			deleted, err := authSvc.PurgeExpiredTokens(ctx)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logr.Sugar().Infow("purged expired refresh tokens", "count", deleted)
			}
		}
		return nil
	}, jobs.QueueConfig{Workers: 1, Logger: logr})
	maintenance.Start(context.Background())
	defer maintenance.Stop()
	maintenance.Schedule(time.Hour, jobs.Job{ID: "token-purge", Type: "purge-expired-tokens"})

	authHandler := handler.NewAuthHandler(authSvc)
	classHandler := handler.NewClassHandler(classSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc, rosterSvc)
	rosterHandler := handler.NewRosterHandler(rosterSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.PUT("/password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	classes := protected.Group("/classes")
	{
		classes.GET("", classHandler.List)
		classes.GET("/:id", classHandler.Get)
		classes.POST("", middleware.RequireRoles(models.RoleAdmin), classHandler.Create)
		classes.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), classHandler.Update)
		classes.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), classHandler.Delete)

		classes.POST("/:id/students", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.AssignStudents)
		classes.DELETE("/:id/students/:studentId", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Unassign)
		classes.PUT("/:id/teacher", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.AssignTeacher)
		classes.DELETE("/:id/teacher", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.UnassignTeacher)

		classes.GET("/:id/roster", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), rosterHandler.ClassRoster)

		classes.POST("/:id/attendance", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Save)
		classes.GET("/:id/attendance/sessions", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.ListSessions)
		classes.GET("/:id/attendance/sessions/:date", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.SessionDetail)
		classes.GET("/:id/attendance/export", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), attendanceHandler.Export)
	}

	protected.POST("/enrollments", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.AssignSingle)

	students := protected.Group("/students")
	{
		students.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), studentHandler.List)
		students.GET("/:id", middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), "SELF"), studentHandler.Get)
		students.POST("", middleware.RequireRoles(models.RoleAdmin), studentHandler.Create)
		students.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Update)
		students.POST("/:id/deactivate", middleware.RequireRoles(models.RoleAdmin), studentHandler.Deactivate)
		students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), studentHandler.Delete)
	}

	teachers := protected.Group("/teachers")
	{
		teachers.GET("", middleware.RequireRoles(models.RoleAdmin), teacherHandler.List)
		teachers.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), teacherHandler.Get)
		teachers.POST("", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Create)
		teachers.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Update)
		teachers.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), teacherHandler.Delete)
	}

	protected.GET("/me/class", middleware.RequireRoles(models.RoleStudent), rosterHandler.MyClass)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
