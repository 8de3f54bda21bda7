// Package grpcserver runs the operational gRPC listener: health checks and, in dev, reflection.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/todo-keeper/internal/tracker"
)

// OpsOptions configures the ops listener. TLS is enabled when both files are set.
type OpsOptions struct {
	CertFile   string
	KeyFile    string
	Reflection bool
}

// Ops serves grpc.health.v1.Health.
type Ops struct {
	srv *grpc.Server
	hs  *health.Server
	log *zap.Logger
}

// NewOps builds the server with the recover and logging interceptors installed.
// Panics are reported to rep.
func NewOps(log *zap.Logger, rep tracker.Reporter, opts OpsOptions) (*Ops, error) {
	sopts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log, rep),
			LoggingUnary(log),
		),
	}
	if opts.CertFile != "" && opts.KeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		sopts = append(sopts, grpc.Creds(creds))
	}
	s := grpc.NewServer(sopts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Ops{srv: s, hs: hs, log: log}, nil
}

// Serve blocks serving lis.
func (o *Ops) Serve(lis net.Listener) error {
	o.log.Info("ops listening", zap.String("addr", lis.Addr().String()))
	return o.srv.Serve(lis)
}

// SetServing flips the overall status reported to health checks.
func (o *Ops) SetServing(ok bool) { o.setStatus("", ok) }

func (o *Ops) setStatus(service string, ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	o.hs.SetServingStatus(service, st)
}

// Watch runs check every interval and reports the result under service until ctx ends.
func (o *Ops) Watch(ctx context.Context, service string, every time.Duration, check func(context.Context) error) {
	run := func() {
		cctx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		err := check(cctx)
		if err != nil {
			o.log.Warn("health check failed", zap.String("service", service), zap.Error(err))
		}
		o.setStatus(service, err == nil)
	}
	run()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

// Stop reports NOT_SERVING to every watcher and drains connections, forcing after timeout.
func (o *Ops) Stop(timeout time.Duration) {
	o.hs.Shutdown()
	done := make(chan struct{})
	go func() {
		o.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.srv.Stop()
	}
}
