package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/harun/voxrelay/internal/secrets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	keyOut    string
	recipient string
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage age-encrypted config values",
	Long: `Config string values written as ENC[...] are decrypted at startup with an
age identity from VOXRELAY_AGE_KEY, VOXRELAY_AGE_KEY_FILE, secrets.identity
or ~/.config/voxrelay/age.key.`,
}

var secretsKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an age identity",
	Args:  cobra.NoArgs,
	RunE:  runSecretsKeygen,
}

var secretsEncryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a value for the config file",
	Long: `Encrypt a value and print it in ENC[...] form. The value is read from the
argument or, when omitted, from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSecretsEncrypt,
}

func init() {
	secretsKeygenCmd.Flags().StringVar(&keyOut, "out", "", "identity file path (default ~/.config/voxrelay/age.key)")
	secretsEncryptCmd.Flags().StringVar(&recipient, "recipient", "", "age public key (default derived from the configured identity)")

	secretsCmd.AddCommand(secretsKeygenCmd)
	secretsCmd.AddCommand(secretsEncryptCmd)
	rootCmd.AddCommand(secretsCmd)
}

func runSecretsKeygen(cmd *cobra.Command, args []string) error {
	path := keyOut
	if path == "" {
		p, err := secrets.DefaultKeyPath()
		if err != nil {
			return err
		}
		path = p
	}

	id, err := secrets.NewIdentity()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}
	if err := secrets.WriteIdentityFile(path, id, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Identity written to %s\n", path)
	fmt.Fprintf(out, "Public key: %s\n", id.Recipient())
	return nil
}

func runSecretsEncrypt(cmd *cobra.Command, args []string) error {
	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if scanner.Scan() {
			value = strings.TrimRight(scanner.Text(), "\r")
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}
	}
	if value == "" {
		return errors.New("nothing to encrypt")
	}

	r, err := resolveRecipient()
	if err != nil {
		return err
	}

	sealed, err := secrets.Seal(value, r)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}

func resolveRecipient() (age.Recipient, error) {
	if recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
		return r, nil
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}
	ids, err := secrets.ResolveIdentity(v)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x.Recipient(), nil
		}
	}
	return nil, errors.New("no age identity found; run `voxrelay secrets keygen` or pass --recipient")
}
