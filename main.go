package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"permission-center/auth"
	"permission-center/config"
	"permission-center/controllers"
	"permission-center/database"
	grpcserver "permission-center/grpc_server"
	"permission-center/metrics"
	"permission-center/registry"
	"permission-center/repositories"
	"permission-center/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	switch level {
	case "debug":
		logger, _ = zap.NewDevelopment()
	default:
		logger, _ = zap.NewProduction()
	}
	return logger
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Permission Center",
			Description: "Role and permission catalog with per-user overrides and an authorization resolver",
			Version:     "1.0.0",
		},
	}
	swo.SecurityDefinitions = spec.SecurityDefinitions{"bearer": spec.APIKeyAuth("Authorization", "header")}
}

func healthHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// registerWithConsul announces the gRPC and HTTP listeners and returns their deregistration.
func registerWithConsul(cfg config.Config, logger *zap.Logger) (func(), error) {
	reg, err := registry.NewConsulRegistry(cfg.Consul.Address, logger.Sugar())
	if err != nil {
		return nil, err
	}
	host := cfg.Consul.AdvertiseHost
	return registry.RegisterEndpoints(reg,
		registry.GRPCEndpoint(cfg.ServiceName+"-grpc", host, cfg.GRPCPort, "grpc", "authz"),
		registry.HTTPEndpoint(cfg.ServiceName+"-http", host, cfg.HTTPPort, "/healthz", "http", "authz"),
	)
}

func main() {
	// Initialize configs
	config.InitConfig()
	cfg := config.AppConfig

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() // Make sure the buffer is flushed before the program exits

	if cfg.JwtSecret == config.DefaultJwtSecret {
		logger.Warn("using the default JWT secret, set jwt_secret before going to production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	if cfg.Database.Seed {
		if err := database.Seed(ctx, db, cfg.Admin, logger); err != nil {
			logger.Fatal("Failed to seed database", zap.Error(err))
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	permissionRepo := repositories.NewPermissionRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	grantRepo := repositories.NewGrantRepository(db)
	userRepo := repositories.NewUserRepository(db)

	permissionService := services.NewPermissionService(permissionRepo, logger)
	roleService := services.NewRoleService(roleRepo, permissionRepo, grantRepo, logger)
	grantService := services.NewGrantService(grantRepo, permissionRepo, roleRepo, logger)
	authzService := services.NewAuthorizationService(roleRepo, grantRepo, m, logger)

	authenticator := auth.NewAuthenticator([]byte(cfg.JwtSecret), cfg.JwtTTL, cfg.ServiceName, userRepo, logger)
	guard := controllers.NewGuard(authenticator, authzService, logger)

	// --- HTTP ---
	container := restful.NewContainer()
	container.Filter(controllers.RequestLogger(logger))
	container.Filter(m.Filter)

	loginWS := new(restful.WebService)
	loginWS.Path("/login").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	loginWS.Route(loginWS.POST("").To(authenticator.LoginRouteHandler).
		Doc("Exchange credentials for a bearer token").
		Metadata(restfulspec.KeyOpenAPITags, []string{"auth"}).
		Reads(auth.LoginCredentials{}).
		Writes(auth.LoginResponse{}))
	container.Add(loginWS)

	for _, register := range []func(*restful.WebService){
		controllers.NewPermissionController(permissionService, guard, logger).RegisterRoutes,
		controllers.NewRoleController(roleService, grantService, guard, logger).RegisterRoutes,
		controllers.NewUserAccessController(roleService, grantService, guard, logger).RegisterRoutes,
		controllers.NewAuthzController(authzService, guard, logger).RegisterRoutes,
	} {
		ws := new(restful.WebService)
		register(ws)
		container.Add(ws)
	}

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}))
	container.Handle("/healthz", healthHandler(db))
	if m != nil {
		container.Handle("/metrics", m.Handler())
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      container,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	// --- gRPC ---
	grpcServer, healthServer := grpcserver.NewServer(authenticator, authzService, logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.Int("port", cfg.GRPCPort), zap.Error(err))
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.Int("port", cfg.GRPCPort))
		serveErr <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	deregister := func() {}
	if cfg.Consul.Enabled {
		if d, err := registerWithConsul(cfg, logger); err != nil {
			logger.Warn("Consul registration failed, continuing without it", zap.Error(err))
		} else {
			deregister = d
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server stopped unexpectedly", zap.Error(err))
	}

	deregister()
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("server has stopped")
}
