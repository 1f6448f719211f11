package grpc

import (
	"context"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// AuthClient calls AuthService over an existing connection.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthClient returns a client using cc.
func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *AuthClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *AuthClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, MethodRefresh, in, opts)
}

func (c *AuthClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, MethodLogout, in, opts)
}

func (c *AuthClient) WhoAmI(ctx context.Context, in *WhoAmIRequest, opts ...grpc.CallOption) (*WhoAmIResponse, error) {
	return invoke[WhoAmIResponse](ctx, c.cc, MethodWhoAmI, in, opts)
}

func (c *AuthClient) ChangePassword(ctx context.Context, in *ChangePasswordRequest, opts ...grpc.CallOption) (*ChangePasswordResponse, error) {
	return invoke[ChangePasswordResponse](ctx, c.cc, MethodChangePassword, in, opts)
}

func (c *AuthClient) IssueClientToken(ctx context.Context, in *IssueClientTokenRequest, opts ...grpc.CallOption) (*ClientTokenResponse, error) {
	return invoke[ClientTokenResponse](ctx, c.cc, MethodIssueClientToken, in, opts)
}

// WithBearer attaches accessToken to outgoing calls made with ctx.
func WithBearer(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, common.BearerPrefix+accessToken)
}
