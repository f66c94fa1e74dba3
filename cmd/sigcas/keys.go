package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/agenthands/sigcas/pkg/auth"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// keyFile is the on-disk form written by keygen.
type keyFile struct {
	Method  string `yaml:"method"`
	Private string `yaml:"private"`
	Public  string `yaml:"public"`
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var k keyFile
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return &k, nil
}

// sign returns a credential header for body.
func (k *keyFile) sign(body io.Reader) (string, error) {
	raw, err := hex.DecodeString(k.Private)
	if err != nil {
		return "", fmt.Errorf("private key is not hex: %w", err)
	}

	switch k.Method {
	case auth.MethodSecp256k1:
		return auth.SignSecp256k1(secp256k1.PrivKeyFromBytes(raw), body)
	case auth.MethodEd25519:
		if len(raw) != ed25519.SeedSize {
			return "", fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
		}
		return auth.SignEd25519(ed25519.NewKeyFromSeed(raw), body)
	default:
		return "", fmt.Errorf("unsupported key method %q", k.Method)
	}
}

func generateKey(method string) (*keyFile, error) {
	switch method {
	case auth.MethodSecp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		return &keyFile{
			Method:  method,
			Private: hex.EncodeToString(priv.Serialize()),
			Public:  hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		}, nil
	case auth.MethodEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return &keyFile{
			Method:  method,
			Private: hex.EncodeToString(priv.Seed()),
			Public:  hex.EncodeToString(pub),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key method %q (supported: %s, %s)",
			method, auth.MethodSecp256k1, auth.MethodEd25519)
	}
}

var keygenFlags struct {
	Method string
	Out    string
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := generateKey(keygenFlags.Method)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(k)
		if err != nil {
			return err
		}

		if keygenFlags.Out == "" || keygenFlags.Out == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(keygenFlags.Out, data, 0600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s key written to %s\npublic: %s\n", k.Method, keygenFlags.Out, k.Public)
		return nil
	},
}

var signFlags struct {
	KeyFile string
}

var signCmd = &cobra.Command{
	Use:   "sign FILE",
	Short: "Print the Authorization header value for uploading FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := readKeyFile(signFlags.KeyFile)
		if err != nil {
			return err
		}
		body, cleanup, err := openSeekable(args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		header, err := k.sign(body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), header)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenFlags.Method, "method", "m", auth.MethodSecp256k1, "key type: secp256k1 or ed25519")
	keygenCmd.Flags().StringVarP(&keygenFlags.Out, "out", "o", "", "write the key to this file instead of stdout")

	signCmd.Flags().StringVarP(&signFlags.KeyFile, "key", "k", "", "key file from 'sigcas keygen'")
	_ = signCmd.MarkFlagRequired("key")
}
