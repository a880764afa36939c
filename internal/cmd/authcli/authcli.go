// Package authcli implements the diagnostic command line for the auth
// orchestrator. It is a developer tool for poking at a backend and the
// local session store, not a product surface.
package authcli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/everwith/appcore/internal/auth"
	"github.com/everwith/appcore/internal/auth/backend"
	"github.com/everwith/appcore/internal/auth/session"
	"github.com/everwith/appcore/internal/platform/config"
	"github.com/everwith/appcore/internal/platform/otel"
)

// Config holds authcli command configuration.
type Config struct {
	SessionPath string
	Email       string
	Password    string
	Name        string

	// Command is the first positional argument: register, login, guest,
	// status, or signout.
	Command string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags and the subcommand into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		SessionPath: envOrDefault(lookup, []string{"EVERWITH_SESSION_PATH"}, defaultSessionPath()),
	}

	fs.StringVar(&cfg.SessionPath, "session", cfg.SessionPath, "Path to the session database")
	fs.StringVar(&cfg.Email, "email", "", "Email for register/login")
	fs.StringVar(&cfg.Password, "password", "", "Password for register/login")
	fs.StringVar(&cfg.Name, "name", "", "Display name for register")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Command = fs.Arg(0)
	if cfg.Command == "" {
		return Config{}, errors.New("usage: authcli [flags] register|login|guest|status|signout")
	}
	return cfg, nil
}

// Run executes the requested subcommand against the configured backend.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	shutdown, err := otel.Setup(ctx, "authcli")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}()

	var apiCfg backend.Config
	if err := config.ParseEnv(&apiCfg); err != nil {
		return err
	}

	if err := ensureParentDir(cfg.SessionPath); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	store, err := session.Open(cfg.SessionPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	client := backend.New(apiCfg, backend.WithTokenSource(store.Token))
	manager := auth.New(auth.Deps{Backend: client, Store: store})
	defer manager.Close()

	switch cfg.Command {
	case "register":
		return report(out, manager.SignUpWithEmail(ctx, cfg.Email, cfg.Password, cfg.Name))
	case "login":
		return report(out, manager.SignInWithEmail(ctx, cfg.Email, cfg.Password))
	case "guest":
		return report(out, manager.SignInAsGuest(ctx))
	case "status":
		if err := manager.ValidateSession(ctx); err != nil {
			fmt.Fprintf(out, "validation skipped: %v\n", err)
		}
		printState(out, manager.State())
		return nil
	case "signout":
		manager.SignOut(ctx)
		printState(out, manager.State())
		return nil
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

func report(out io.Writer, result auth.SignInResult) error {
	switch result.Status {
	case auth.SignInSuccess:
		fmt.Fprintf(out, "signed in as %s (%s via %s)\n", result.User.Name, result.User.ID, result.User.Provider.Label())
		return nil
	case auth.SignInCancelled:
		fmt.Fprintln(out, "cancelled")
		return nil
	}
	return result.Err
}

func printState(out io.Writer, state auth.AuthState) {
	switch state.Phase {
	case auth.PhaseAuthenticated:
		fmt.Fprintf(out, "authenticated: %s (%s via %s)\n", state.User.Name, state.User.ID, state.User.Provider.Label())
	case auth.PhaseError:
		fmt.Fprintf(out, "error: %s\n", state.Message)
	default:
		fmt.Fprintf(out, "%s\n", state.Phase)
	}
}

// ensureParentDir creates the directory holding the session database.
// The default path lives under the user config dir, which does not exist
// on a fresh machine.
func ensureParentDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "everwith-session.db"
	}
	return filepath.Join(dir, "everwith", "session.db")
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
