package topology

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
)

// credentialTTL bounds how long a minted capability token is presented
// as valid before a caller must re-register or refresh.
const credentialTTL = 24 * time.Hour

// capabilityClaims is the JWT payload minted on RegisterAgent when the
// coordinator carries a signing secret. Agents present the resulting
// token on SendMessage/BroadcastMessage in deployments where the kernel
// does not own the transport between processes.
type capabilityClaims struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// SetSigningSecret enables capability token minting for every agent
// registered afterward. Left unset, RegisterAgent never touches
// Metadata["credential"] — the feature is opt-in per §"optional agent
// credential".
func (c *Coordinator) SetSigningSecret(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signingKey = []byte(secret)
}

// mintCredential signs a capability token for agentID and returns it
// alongside a bcrypt hash of the signing secret. The hash is stored in
// agent metadata as a verifiable fingerprint of which secret issued the
// token, without ever persisting the secret itself.
func (c *Coordinator) mintCredential(agentID string, capabilities []string) (token, secretHash string, err error) {
	claims := capabilityClaims{
		AgentID:      agentID,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(credentialTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", "", err
	}

	hash, err := bcrypt.GenerateFromPassword(c.signingKey, bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return signed, string(hash), nil
}

// VerifyCredential parses and validates a capability token minted by
// mintCredential, returning the agent id it was issued to. Intended for
// a future out-of-process transport that needs to authenticate a sender
// before routing on its behalf; SendMessage/BroadcastMessage themselves
// trust the caller since they run in-process against the same
// Coordinator that minted the token.
func (c *Coordinator) VerifyCredential(tokenString string) (string, error) {
	c.mu.RLock()
	key := c.signingKey
	c.mu.RUnlock()

	if len(key) == 0 {
		return "", swarmerrors.NewInvalidArgument("no_signing_secret", "coordinator has no signing secret configured")
	}

	claims := &capabilityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !token.Valid {
		return "", swarmerrors.NewInvalidArgument("invalid_credential", "capability token is invalid or expired")
	}
	return claims.AgentID, nil
}
