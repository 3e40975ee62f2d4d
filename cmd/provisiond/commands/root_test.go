package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	provisionName, provisionDN, provisionDomain = "", "", ""
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "provisiond dev")
}

func TestProvisionFlags(t *testing.T) {
	_, err := execute(t, "provision", "--name", "alice")
	assert.ErrorContains(t, err, "domain")

	_, err = execute(t, "provision", "--domain", "example.com")
	assert.ErrorContains(t, err, "exactly one of --name or --dn")

	_, err = execute(t, "provision", "--domain", "example.com", "--name", "alice", "--dn", "uid=alice")
	assert.ErrorContains(t, err, "exactly one of --name or --dn")
}

func TestInvalidConfiguration(t *testing.T) {
	t.Setenv("PROVISIOND_LOGGING_LEVEL", "loud")
	_, err := execute(t, "poll")
	assert.Error(t, err)
}
