package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"clinica/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// AuthInterceptor guards the gRPC surface with static API keys, which are
// handed to infrastructure callers such as probes and load balancers.
type AuthInterceptor struct {
	cfg     config.APIAuthConfig
	keys    []config.APIClientKey
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg config.APIConfig, limiter *rateLimiter) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg.Auth,
		keys:    cfg.Auth.APIKeys,
		limiter: limiter,
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.check(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.check(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
)

func (a *AuthInterceptor) check(ctx context.Context) error {
	if a.cfg.Enabled {
		if _, err := a.authenticate(ctx); err != nil {
			return err
		}
	}
	if !a.limiter.allow(a.clientKey(ctx)) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

// authenticate returns the name of the client owning the presented key.
func (a *AuthInterceptor) authenticate(ctx context.Context) (string, error) {
	apiKey := a.presentedKey(ctx)
	if apiKey == "" {
		return "", status.Error(codes.Unauthenticated, "missing api key header")
	}

	for _, client := range a.keys {
		if subtle.ConstantTimeCompare([]byte(client.Key), []byte(apiKey)) == 1 {
			return client.Name, nil
		}
	}
	return "", status.Error(codes.Unauthenticated, "invalid api key")
}

func (a *AuthInterceptor) presentedKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	header := strings.ToLower(strings.TrimSpace(a.cfg.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return first(md.Get(header))
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	if apiKey := a.presentedKey(ctx); apiKey != "" {
		return apiKey
	}
	return remoteAddr(ctx)
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remoteAddr(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDHeader = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if id := first(md.Get(requestIDHeader)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
