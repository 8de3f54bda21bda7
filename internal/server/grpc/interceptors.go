package grpcserver

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/todo-keeper/internal/tracker"
)

// RequestIDKey is the metadata key carrying a caller-supplied request id.
const RequestIDKey = "x-request-id"

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	if id, err := uuid.NewV4(); err == nil {
		return id.String()
	}
	return ""
}

// levelFor keeps health polling quiet: OK is debug, caller mistakes are info, the rest are errors.
func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK:
		return zap.DebugLevel
	case codes.Canceled, codes.InvalidArgument, codes.NotFound, codes.Unauthenticated,
		codes.PermissionDenied, codes.Unimplemented:
		return zap.InfoLevel
	default:
		return zap.ErrorLevel
	}
}

func callFields(ctx context.Context, method string) []zap.Field {
	remote := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	return []zap.Field{
		zap.String("method", method),
		zap.String("peer", remote),
		zap.String("request_id", requestID(ctx)),
	}
}

// LoggingUnary writes one line per call. Payloads are never logged.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		if ce := log.Check(levelFor(code), "grpc"); ce != nil {
			ce.Write(append(callFields(ctx, info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("dur", time.Since(start)),
			)...)
		}
		return resp, err
	}
}

// RecoverUnary turns a panic into codes.Internal and hands it to rep.
func RecoverUnary(log *zap.Logger, rep tracker.Reporter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("panic", append(callFields(ctx, info.FullMethod),
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
			)...)
			rep.Report(ctx, fmt.Errorf("grpc panic: %v", r), map[string]string{"method": info.FullMethod})
			err = status.Error(codes.Internal, "internal")
		}()
		return next(ctx, req)
	}
}
