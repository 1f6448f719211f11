package common

// AuthorizationHeaderName is the gRPC metadata key carrying "Bearer <token>".
const AuthorizationHeaderName = "authorization"

// AccessTokenHeaderName is the legacy metadata key carrying a bare access
// token. Still accepted by the server interceptor.
const AccessTokenHeaderName = "access_token"

// BearerPrefix precedes the token in the authorization header.
const BearerPrefix = "Bearer "
