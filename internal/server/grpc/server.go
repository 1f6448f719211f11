// Package grpc is the network face of the auth core: a hand-declared gRPC
// service carried over a JSON codec, with interceptors for authentication,
// throttling, metrics and error translation.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AuthService is the subset of services.AuthService the transport calls.
type AuthService interface {
	Register(ctx context.Context, handle, password string) (*models.User, error)
	Login(ctx context.Context, handle, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, accessToken string) (string, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	IssueClientToken(ctx context.Context, userID string) (*services.ClientToken, error)
}

const defaultShutdownTimeout = 10 * time.Second

// Options tunes the server. Zero values disable throttling.
type Options struct {
	LoginRatePerMinute int
	LoginBurst         int
	Recorder           metrics.Recorder
	// ShutdownTimeout bounds the graceful stop; in-flight calls still
	// running after it are cut off.
	ShutdownTimeout    time.Duration
}

type GRPCServer struct {
	address  string
	auth     AuthService
	logger   logging.Logger
	metrics  metrics.Recorder
	limiter  *peerLimiter
	validate *validator.Validate
	health   *health.Server

	shutdownTimeout time.Duration
}

// NewGRPCServer returns a server that will listen on address.
func NewGRPCServer(address string, l logging.Logger, svc AuthService, opts Options) *GRPCServer {
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.Nop()
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &GRPCServer{
		address:  address,
		auth:     svc,
		logger:   l.With("module", "grpc_server"),
		metrics:  rec,
		limiter:  newPeerLimiter(opts.LoginRatePerMinute, opts.LoginBurst, time.Now),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		health:   health.NewServer(),

		shutdownTimeout: timeout,
	}
}

// newServer builds the grpc.Server with interceptors and services attached.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.recoverInterceptor,
		s.metricsInterceptor,
		s.rateLimitInterceptor,
		s.accessTokenInterceptor,
		s.validateInterceptor,
	))
	RegisterAuthServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully and returns once the server is fully stopped. Calls still in
// flight after the shutdown timeout are cut off. It owns lis.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.stop(ctx, srv)
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	// Serve returns nil only after a stop has begun.
	<-stopped
	return nil
}

func (s *GRPCServer) stop(ctx context.Context, srv *grpc.Server) {
	graceful := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(graceful)
	}()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-graceful:
	case <-timer.C:
		s.logger.Warn(ctx, "Graceful stop timed out, closing connections", "timeout", s.shutdownTimeout.String())
		srv.Stop()
		<-graceful
	}
}
