package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"coursehub_backend/internal/config"
	"coursehub_backend/internal/controller"
	"coursehub_backend/internal/repository"
	"coursehub_backend/internal/service"
	"coursehub_backend/pkg/configwatcher"
	"coursehub_backend/pkg/database"
	"coursehub_backend/pkg/logger"
	"coursehub_backend/pkg/messaging"
	"coursehub_backend/pkg/monitoring"
	"coursehub_backend/pkg/security"
	"coursehub_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConfigFile 热加载监听的配置文件
const ConfigFile = "configs/config.yaml"

type App struct {
	Config    *config.Config
	Router    *gin.Engine
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher messaging.Publisher

	services        *services
	limiter         *security.IPRateLimiter
	tracerProvider  *sdktrace.TracerProvider
	cron            *cron.Cron
	configCallbacks []func(*config.Config)
}

type repositories struct {
	course    *repository.CourseRepository
	quiz      *repository.QuizRepository
	attempt   *repository.AttemptRepository
	analytics *repository.AnalyticsRepository
	earnings  *repository.EarningsRepository
}

type services struct {
	quiz      *service.QuizService
	attempt   *service.AttemptService
	analytics *service.AnalyticsService
	earnings  *service.EarningsService
}

type controllers struct {
	quiz      *controller.QuizController
	attempt   *controller.AttemptController
	analytics *controller.AnalyticsController
	earnings  *controller.EarningsController
	health    *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, callback := range a.configCallbacks {
		callback(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		course:    repository.NewCourseRepository(db),
		quiz:      repository.NewQuizRepository(db),
		attempt:   repository.NewAttemptRepository(db),
		analytics: repository.NewAnalyticsRepository(db),
		earnings:  repository.NewEarningsRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.quiz = service.NewQuizService(repos.quiz, repos.course, repos.attempt, db)
	s.analytics = service.NewAnalyticsService(repos.analytics, repos.quiz, repos.course, rdb, cfg, db)
	s.attempt = service.NewAttemptService(repos.quiz, repos.attempt, repos.course, s.analytics, a.Publisher, cfg.Quiz, db)
	s.earnings = service.NewEarningsService(repos.earnings, repos.course, a.Publisher, cfg.Ledger, db)

	// 配置热加载
	a.RegisterConfigCallback(s.attempt.ApplyConfig)
	a.RegisterConfigCallback(s.analytics.ApplyConfig)
	a.RegisterConfigCallback(s.earnings.ApplyConfig)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		quiz:      controller.NewQuizController(s.quiz),
		attempt:   controller.NewAttemptController(s.attempt),
		analytics: controller.NewAnalyticsController(s.analytics),
		earnings:  controller.NewEarningsController(s.earnings),
		health:    controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	a.limiter = security.NewIPRateLimiter(cfg.RateLimit)
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// build 在基础设施就绪后组装各层并注册路由
func build(cfg *config.Config, db *gorm.DB, rdb *redis.Client, publisher messaging.Publisher) *App {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}

	app := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Publisher: publisher,
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, db, rdb)
	controllers := app.initControllers(app.services, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

func initPublisher(cfg *config.MessagingConfig) messaging.Publisher {
	if !cfg.Enabled {
		return messaging.NoopPublisher{}
	}
	client, err := messaging.NewRabbitMQClient(cfg)
	if err != nil {
		// 消息队列不可用时只丢弃事件，不影响主流程
		logger.Log.Warn("Failed to connect to RabbitMQ, events disabled", zap.Error(err))
		return messaging.NoopPublisher{}
	}
	logger.Log.Info("RabbitMQ connected", zap.String("host", cfg.Host))
	return client
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	// release 模式默认不自动迁移，需要通过 -migrate 显式开启
	migrate := cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode
	db, err := database.InitDB(&cfg.Database, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err = tracing.InitTracer(&cfg.Tracing, cfg.Server.Mode)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app := build(cfg, db, rdb, initPublisher(&cfg.Messaging))
	app.tracerProvider = tp
	return app
}

func (a *App) startBackgroundTasks(ctx context.Context) {
	go a.limiter.Cleanup(ctx)

	go func() {
		if err := configwatcher.WatchConfig(ctx, filepath.Clean(ConfigFile), a.applyConfig); err != nil {
			logger.Log.Warn("Config watcher disabled", zap.Error(err))
		}
	}()

	c, err := a.startJobs(ctx)
	if err != nil {
		logger.Log.Error("Failed to schedule background jobs", zap.Error(err))
		return
	}
	a.cron = c
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.startBackgroundTasks(ctx)

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	cancel()
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if err := a.Publisher.Close(); err != nil {
		logger.Log.Warn("Failed to close publisher", zap.Error(err))
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
