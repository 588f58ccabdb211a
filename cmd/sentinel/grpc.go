package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// grpcServiceName is the health service name reported for the edge.
const grpcServiceName = "edgesentinel.Sentinel"

type grpcHealth struct {
	server *grpc.Server
	health *health.Server
}

// startGRPCHealth serves the standard gRPC health service on port.
func startGRPCHealth(port int, logger *zap.Logger) (*grpcHealth, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("gRPC listen on :%d: %w", port, err)
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &grpcHealth{server: srv, health: hs}
	g.setServing(true)

	go func() {
		logger.Info("sentinel gRPC health listening", zap.Int("port", port))
		if err := srv.Serve(lis); err != nil {
			logger.Error("gRPC serve error", zap.Error(err))
		}
	}()
	return g, nil
}

// setServing reports SERVING or NOT_SERVING for both the overall server and
// the sentinel service.
func (g *grpcHealth) setServing(ok bool) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(grpcServiceName, st)
}

func (g *grpcHealth) stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
