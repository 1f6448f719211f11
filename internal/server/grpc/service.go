package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sessionkeeper.auth.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	MethodRegister         = "/" + ServiceName + "/Register"
	MethodLogin            = "/" + ServiceName + "/Login"
	MethodRefresh          = "/" + ServiceName + "/Refresh"
	MethodLogout           = "/" + ServiceName + "/Logout"
	MethodWhoAmI           = "/" + ServiceName + "/WhoAmI"
	MethodChangePassword   = "/" + ServiceName + "/ChangePassword"
	MethodIssueClientToken = "/" + ServiceName + "/IssueClientToken"
)

// AuthServer is the server API of AuthService.
type AuthServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	WhoAmI(context.Context, *WhoAmIRequest) (*WhoAmIResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*ChangePasswordResponse, error)
	IssueClientToken(context.Context, *IssueClientTokenRequest) (*ClientTokenResponse, error)
}

// AuthServiceDesc describes AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(MethodRegister, AuthServer.Register)},
		{MethodName: "Login", Handler: unary(MethodLogin, AuthServer.Login)},
		{MethodName: "Refresh", Handler: unary(MethodRefresh, AuthServer.Refresh)},
		{MethodName: "Logout", Handler: unary(MethodLogout, AuthServer.Logout)},
		{MethodName: "WhoAmI", Handler: unary(MethodWhoAmI, AuthServer.WhoAmI)},
		{MethodName: "ChangePassword", Handler: unary(MethodChangePassword, AuthServer.ChangePassword)},
		{MethodName: "IssueClientToken", Handler: unary(MethodIssueClientToken, AuthServer.IssueClientToken)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterAuthServer registers srv on s.
func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// unary adapts a typed method to grpc.MethodHandler, the same shape
// protoc-gen-go-grpc emits per method.
func unary[Req, Resp any](fullMethod string, call func(AuthServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(AuthServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
