// Package cli implements authctl, the operator command-line tool.
//
// Account commands (create-user, disable-user, enable-user, revoke-sessions,
// list-sessions) talk to Postgres and Redis directly through the same core
// the server runs. Session commands (login, whoami, refresh, logout) go
// through the gRPC API of a running server. genkey prints a fresh HS256
// secret.
package cli
