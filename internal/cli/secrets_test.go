package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/voxrelay/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "age.key")

	output, err := execute(t, "", "secrets", "keygen", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Identity written to "+path)
	assert.Contains(t, output, "Public key: age1")

	ids, err := secrets.ReadIdentityFile(path)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	_, err = execute(t, "", "secrets", "keygen", "--out", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSecretsEncrypt(t *testing.T) {
	id, err := secrets.NewIdentity()
	require.NoError(t, err)

	t.Run("argument with recipient", func(t *testing.T) {
		output, err := execute(t, "", "secrets", "encrypt", "key_live_abc", "--recipient", id.Recipient().String())
		require.NoError(t, err)

		sealed := strings.TrimSpace(output)
		require.True(t, secrets.IsSealed(sealed))
		plaintext, err := secrets.Open(sealed, id)
		require.NoError(t, err)
		assert.Equal(t, "key_live_abc", plaintext)
	})

	t.Run("stdin with identity file", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "age.key")
		require.NoError(t, secrets.WriteIdentityFile(keyPath, id, "now"))

		resetFlags(t)
		t.Setenv(secrets.EnvKeyFile, keyPath)

		cmd := GetRootCmd()
		var out strings.Builder
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader("key_from_stdin\n"))
		cmd.SetArgs([]string{"secrets", "encrypt"})
		require.NoError(t, cmd.Execute())

		ids, err := secrets.ReadIdentityFile(keyPath)
		require.NoError(t, err)
		plaintext, err := secrets.Open(strings.TrimSpace(out.String()), ids...)
		require.NoError(t, err)
		assert.Equal(t, "key_from_stdin", plaintext)
	})

	t.Run("no identity", func(t *testing.T) {
		_, err := execute(t, "", "secrets", "encrypt", "value")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no age identity found")
	})

	t.Run("bad recipient", func(t *testing.T) {
		_, err := execute(t, "", "secrets", "encrypt", "value", "--recipient", "age1nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid recipient")
	})

	t.Run("empty value", func(t *testing.T) {
		_, err := execute(t, "", "secrets", "encrypt", "--recipient", id.Recipient().String())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nothing to encrypt")
	})
}

func TestSealedConfigRoundTrip(t *testing.T) {
	id, err := secrets.NewIdentity()
	require.NoError(t, err)
	sealed, err := secrets.Seal("key_live_abc", id.Recipient())
	require.NoError(t, err)

	resetFlags(t)
	t.Setenv(secrets.EnvKey, id.String())
	cfgFile = writeConfig(t, "retell:\n  api_key: \""+sealed+"\"\n")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "key_live_abc", cfg.Retell.APIKey)
}
