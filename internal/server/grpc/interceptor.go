package grpc

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// protectedMethods require a valid access token.
var protectedMethods = map[string]bool{
	MethodWhoAmI:           true,
	MethodChangePassword:   true,
	MethodIssueClientToken: true,
}

// throttledMethods are rate limited per peer.
var throttledMethods = map[string]bool{
	MethodLogin:    true,
	MethodRegister: true,
}

// UserIDFromContext returns the user id the access token interceptor put in
// ctx.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !protectedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	accessToken := tokenFromMetadata(ctx)
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := s.auth.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, s.toStatus(ctx, info.FullMethod, err)
	}

	return handler(context.WithValue(ctx, userIDKey, userID), req)
}

// tokenFromMetadata reads "authorization: Bearer <token>", falling back to
// the bare access_token header older clients send.
func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(common.AuthorizationHeaderName) {
		if len(v) > len(common.BearerPrefix) && strings.EqualFold(v[:len(common.BearerPrefix)], common.BearerPrefix) {
			return strings.TrimSpace(v[len(common.BearerPrefix):])
		}
	}
	if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if throttledMethods[info.FullMethod] && !s.limiter.Allow(peerKey(ctx)) {
		return nil, status.Error(codes.ResourceExhausted, "too many attempts, slow down")
	}
	return handler(ctx, req)
}

// peerKey is the client host without port, so reconnecting does not reset
// the bucket.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (s *GRPCServer) validateInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return handler(ctx, req)
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.metrics.RecordRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
	return resp, err
}

func (s *GRPCServer) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(ctx, "panic in handler", "method", info.FullMethod, "panic", p)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
