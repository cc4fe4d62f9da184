package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/peerjakobsen/agentify-release/internal/adapter/postgres"
	"github.com/peerjakobsen/agentify-release/internal/config"
	"github.com/peerjakobsen/agentify-release/internal/service"
)

// runAdmin dispatches admin subcommands (create-key, list-keys, revoke-key).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-key":
		return runAdminCreateKey(args[1:])
	case "list-keys":
		return runAdminListKeys(args[1:])
	case "revoke-key":
		return runAdminRevokeKey(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: agentifyd admin <command> [options]

Commands:
  create-key   Issue a new API key
  list-keys    List all issued API keys
  revoke-key   Revoke an API key by id
  help         Show this help message

Examples:
  agentifyd admin create-key --name ci-pipeline
  agentifyd admin create-key --name ci-pipeline --secret "long secret value"
  agentifyd admin list-keys
  agentifyd admin revoke-key --id ak_1a2b3c4d
`)
}

func loadAdminDeps() (*service.KeyService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewKeyService(postgres.NewKeyStore(pool), log)

	cleanup := func() {
		pool.Close()
	}
	return keys, cleanup, nil
}

func runAdminCreateKey(args []string) error {
	fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
	name := fs.String("name", "", "key name, e.g. the consuming system (required)")
	secret := fs.String("secret", "", "key secret (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	sec := *secret
	if sec == "" {
		var err error
		sec, err = promptSecret("Secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		confirm, err := promptSecret("Confirm secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		if sec != confirm {
			return fmt.Errorf("secrets do not match")
		}
	}

	keys, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	key, token, err := keys.CreateKey(context.Background(), *name, sec)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "API key created: %s (name=%s)\n", key.ID, key.Name)
	fmt.Fprintf(os.Stderr, "Token (shown once, store it now):\n")
	fmt.Println(token)
	return nil
}

func runAdminListKeys(args []string) error {
	fs := flag.NewFlagSet("list-keys", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	keys, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := keys.ListKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No API keys found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCREATED\tREVOKED")
	for i := range list {
		revoked := "-"
		if list[i].RevokedAt != nil {
			revoked = list[i].RevokedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			list[i].ID, list[i].Name, list[i].CreatedAt.Format("2006-01-02 15:04"), revoked)
	}
	return w.Flush()
}

func runAdminRevokeKey(args []string) error {
	fs := flag.NewFlagSet("revoke-key", flag.ContinueOnError)
	id := fs.String("id", "", "key id to revoke (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	keys, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := keys.RevokeKey(context.Background(), *id); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "API key revoked: %s\n", *id)
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
