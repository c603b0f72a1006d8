// HTTP и gRPC сервер - игры, баланс, заявки на вывод
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/glkeru/loyalty/rewards/internal/api"
	rpc "github.com/glkeru/loyalty/rewards/internal/api/grpc"
	app "github.com/glkeru/loyalty/rewards/internal/app"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	kafka "github.com/glkeru/loyalty/rewards/internal/external/kafka"
	rabbit "github.com/glkeru/loyalty/rewards/internal/external/rabbitmq"
	logging "github.com/glkeru/loyalty/rewards/internal/logging"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	tracing "github.com/glkeru/loyalty/rewards/observability/otel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	// log
	logger, err := logging.New("rewards-server")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	port, err := app.RequireEnv("REWARDS_HTTP_PORT")
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	grpcPort := os.Getenv("REWARDS_GRPC_PORT")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// tracing
	shutdown, err := tracing.InitTracer(ctx, "rewards", logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdown()

	// kafka, rabbitmq - необязательны
	var opts []services.FacadeOption
	if activity, err := kafka.NewActivityWriter(); err != nil {
		logger.Warn("activity stream disabled", zap.Error(err))
	} else {
		defer activity.Close()
		opts = append(opts, services.WithEvents(activity))
	}
	if payouts, err := rabbit.NewRabbitPublisher(); err != nil {
		logger.Warn("payout queue disabled", zap.Error(err))
	} else {
		defer payouts.Close()
		opts = append(opts, services.WithPayouts(payouts))
	}

	// services
	facade, cleanup, err := app.Open(ctx, cfg, logger, false, opts...)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer cleanup()

	// api handlers
	r := api.NewHandler(facade, api.NewPlayLimiter(cfg.RateLimit.PlaysPerMinute, cfg.RateLimit.Burst), logger)
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(r, "rewards"),
		Addr:         ":" + port,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterRewardsServer(grpcServer, rpc.NewRewardsService(facade, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcPort != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", "0.0.0.0:"+grpcPort)
			if err != nil {
				return err
			}
			logger.Info("grpc server started", zap.String("port", grpcPort))
			return grpcServer.Serve(lis)
		})
	}

	// shutdown
	g.Go(func() error {
		<-gctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(timeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
