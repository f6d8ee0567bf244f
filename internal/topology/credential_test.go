package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAgent_NoSigningSecret_NoCredential(t *testing.T) {
	c := NewCoordinator(ModeMesh, false, testLogger())

	agent, err := c.RegisterAgent("a1", "worker", nil, RegisterOptions{})
	require.NoError(t, err)
	assert.NotContains(t, agent.Metadata, "credential")
}

func TestRegisterAgent_WithSigningSecret_MintsCredential(t *testing.T) {
	c := NewCoordinator(ModeMesh, false, testLogger())
	c.SetSigningSecret("swarm-shared-secret")

	agent, err := c.RegisterAgent("a1", "worker", []string{"compute"}, RegisterOptions{})
	require.NoError(t, err)
	require.Contains(t, agent.Metadata, "credential")
	require.Contains(t, agent.Metadata, "credential_secret_hash")

	token := agent.Metadata["credential"].(string)
	agentID, err := c.VerifyCredential(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", agentID)
}

func TestVerifyCredential_RejectsForeignToken(t *testing.T) {
	issuer := NewCoordinator(ModeMesh, false, testLogger())
	issuer.SetSigningSecret("secret-one")
	agent, err := issuer.RegisterAgent("a1", "worker", nil, RegisterOptions{})
	require.NoError(t, err)
	token := agent.Metadata["credential"].(string)

	verifier := NewCoordinator(ModeMesh, false, testLogger())
	verifier.SetSigningSecret("secret-two")
	_, err = verifier.VerifyCredential(token)
	assert.Error(t, err)
}

func TestVerifyCredential_NoSigningSecretConfigured(t *testing.T) {
	c := NewCoordinator(ModeMesh, false, testLogger())
	_, err := c.VerifyCredential("whatever")
	assert.Error(t, err)
}
