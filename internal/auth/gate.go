package auth

import (
	"context"
	"log"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Binder indexes an authenticated connection by user id. The connection
// registry implements it.
type Binder interface {
	Bind(conn interfaces.Connection) error
}

// Gate authenticates connections against the external token-verification
// collaborator. Verification failures and collaborator outages are both
// fail-closed: the connection stays open but unauthenticated.
type Gate struct {
	verifier interfaces.TokenVerifier
	binder   Binder
}

// NewGate creates an authentication gate.
func NewGate(verifier interfaces.TokenVerifier, binder Binder) *Gate {
	return &Gate{verifier: verifier, binder: binder}
}

// Authenticate processes an AUTH_REQUEST envelope. On success the
// connection's identity is populated and an AUTH_SUCCESS reply is sent; on
// failure an AUTH_FAILED reply is sent and the connection may retry.
// Re-authentication of an already-authenticated connection is a no-op that is
// acknowledged, not an error: it must not reset room membership, rate state,
// or identity.
func (g *Gate) Authenticate(ctx context.Context, conn interfaces.Connection, env *types.Envelope) error {
	if conn.IsAuthenticated() {
		log.Printf("Re-authentication ignored: conn=%s user=%s", conn.ID(), conn.UserID())
		return conn.WriteJSON(types.NewEnvelope(types.MessageTypeAuthSuccess, types.SystemSender, map[string]interface{}{
			"user_id": conn.UserID(),
			"role":    string(conn.Role()),
			"note":    "already authenticated",
		}))
	}

	token := env.DataString("token")
	if token == "" {
		return g.fail(conn, ErrMissingToken)
	}

	identity, err := g.verifier.VerifyToken(ctx, token)
	if err != nil {
		// Collaborator outages are indistinguishable from bad tokens by
		// design: identity defaults to denial.
		log.Printf("Token verification failed: conn=%s err=%v", conn.ID(), err)
		return g.fail(conn, ErrInvalidToken)
	}

	if !identity.Role.IsValid() || identity.Role == types.RoleUnauthenticated {
		return g.fail(conn, ErrInvalidRole)
	}

	if err := conn.SetIdentity(identity); err != nil {
		// Lost a race with a concurrent auth on the same connection; the
		// winning identity stands.
		log.Printf("Identity already set: conn=%s err=%v", conn.ID(), err)
		return conn.WriteJSON(types.NewEnvelope(types.MessageTypeAuthSuccess, types.SystemSender, map[string]interface{}{
			"user_id": conn.UserID(),
			"role":    string(conn.Role()),
			"note":    "already authenticated",
		}))
	}

	if err := g.binder.Bind(conn); err != nil {
		log.Printf("Failed to bind authenticated connection: conn=%s err=%v", conn.ID(), err)
		return g.fail(conn, ErrVerifierFailure)
	}

	log.Printf("Connection authenticated: conn=%s user=%s role=%s", conn.ID(), identity.UserID, identity.Role)

	return conn.WriteJSON(types.NewEnvelope(types.MessageTypeAuthSuccess, types.SystemSender, map[string]interface{}{
		"user_id":     identity.UserID,
		"role":        string(identity.Role),
		"permissions": identity.Permissions,
		"expires_at":  identity.ExpiresAt,
	}))
}

func (g *Gate) fail(conn interfaces.Connection, reason error) error {
	return conn.WriteJSON(types.NewEnvelope(types.MessageTypeAuthFailed, types.SystemSender, map[string]interface{}{
		"reason": reason.Error(),
	}))
}
