package domain

import "context"

// Credentials carry the bearer token and tenant identifier required by the
// console backend. The stream transport cannot send custom headers, so the
// stream client encodes these into connection query parameters; the REST
// client sends them as headers.
type Credentials struct {
	Token    string
	TenantID string
}

// CredentialSupplier provides credentials for outbound calls. Implementations
// may refresh tokens; callers must not cache the returned value across turns.
type CredentialSupplier interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialSupplier returning a fixed token/tenant pair.
type StaticCredentials struct {
	Token    string
	TenantID string
}

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials{Token: s.Token, TenantID: s.TenantID}, nil
}
