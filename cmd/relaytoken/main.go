// relaytoken generates the Ed25519 key pair used for bearer tokens and mints
// tokens for development and operations.
//
// Usage (run from the repo root):
//
//	go run ./cmd/relaytoken keygen [--dir data]
//	go run ./cmd/relaytoken mint --sub boss-1 --role boss [--ttl 24h]
//
// keygen writes data/jwt_private.pem and data/jwt_public.pem (mode 0600) and
// refuses to overwrite existing keys. mint signs with the same files the
// server reads through RELAY_JWT_PRIVATE_KEY and RELAY_JWT_PUBLIC_KEY.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/ashita-ai/agentrelay/internal/auth"
	"github.com/ashita-ai/agentrelay/internal/model"
)

const (
	privateKeyFile = "jwt_private.pem"
	publicKeyFile  = "jwt_public.pem"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], out)
	case "mint":
		return runMint(args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprint(out, `usage: relaytoken <command> [flags]

commands:
  keygen   generate an Ed25519 key pair for bearer tokens
  mint     sign a bearer token for a principal id and role
`)
}

func runKeygen(args []string, out io.Writer) error {
	var dir string
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&dir, "dir", "data", "directory to write the key pair into")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	privPath, pubPath, err := generateKeyPair(dir)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\nwrote %s\n\nRELAY_JWT_PRIVATE_KEY=%s\nRELAY_JWT_PUBLIC_KEY=%s\n",
		privPath, pubPath, privPath, pubPath)
	return nil
}

// generateKeyPair writes a fresh PKCS#8 private key and PKIX public key into
// dir. Existing files are never overwritten; rotating keys invalidates every
// live token and must be deliberate.
func generateKeyPair(dir string) (string, string, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create %s: %w", dir, err)
	}
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return "", "", fmt.Errorf("%s already exists, delete it first to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return "", "", err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path is built from an operator-supplied directory
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func runMint(args []string, out io.Writer) error {
	var (
		dir     string
		subject string
		role    string
		ttl     time.Duration
	)
	flagSet := pflag.NewFlagSet("mint", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&dir, "dir", "data", "directory holding the key pair")
	flagSet.StringVar(&subject, "sub", "", "principal id carried in the token subject")
	flagSet.StringVar(&role, "role", string(model.RoleWorker), "role claim: president, boss or worker")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if subject == "" {
		return fmt.Errorf("--sub is required")
	}
	r := model.Role(role)
	if !r.Valid() {
		return fmt.Errorf("--role %q must be one of president, boss, worker", role)
	}

	mgr, err := auth.NewJWTManager(filepath.Join(dir, privateKeyFile), filepath.Join(dir, publicKeyFile), ttl)
	if err != nil {
		return err
	}
	token, exp, err := mgr.IssueToken(subject, r, ttl)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s\n", token)
	_, _ = fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}
