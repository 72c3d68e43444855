// flags.go defines global CLI flags and the shared session plumbing.
//
// Design: flags are package-level variables bound to the root command;
// subcommands reach shared state through helpers rather than cobra
// internals. Credentials come from environment variables with an
// interactive prompt as fallback, so the tool works both in CI and at an
// operator's desk without flags that leak passwords into shell history.

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/geocat-ops/geocatctl/internal/config"
	"github.com/geocat-ops/geocatctl/internal/console"
	"github.com/geocat-ops/geocatctl/internal/database"
	"github.com/geocat-ops/geocatctl/internal/geocat"
)

var (
	envName string

	cfg *config.Config
)

// out is the output writer for commands. Tests replace it to capture
// output.
var out io.Writer = os.Stdout

// stdin is the prompt input source. Tests replace it to feed answers.
var stdin io.Reader = os.Stdin

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "int",
		"target environment (int, prod, or one configured in ~/.geocatctl/config.yaml)")
}

// Out returns the output writer.
func Out() io.Writer { return out }

// SetOut sets the output writer (for testing).
func SetOut(w io.Writer) { out = w }

// status returns a coloured writer over the command output.
func status() *console.Writer { return console.New(out) }

// loadConfig populates cfg once.
func loadConfig() error {
	if cfg != nil {
		return nil
	}
	c, err := config.Load()
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// environment resolves the --env flag against the loaded config.
func environment() (config.Environment, error) {
	return cfg.Environment(envName)
}

// newSession connects an authenticated session to the target environment.
func newSession(ctx context.Context) (*geocat.Client, error) {
	creds, err := catalogueCredentials()
	if err != nil {
		return nil, err
	}
	return geocat.Connect(ctx, cfg, envName, creds)
}

// newAnonymousSession connects without credentials, for read-only commands
// against public records.
func newAnonymousSession(ctx context.Context) (*geocat.Client, error) {
	return geocat.Connect(ctx, cfg, envName, nil)
}

// catalogueCredentials resolves the catalogue login: GEOCAT_USERNAME and
// GEOCAT_PASSWORD, prompting for whichever is missing.
func catalogueCredentials() (*geocat.Credentials, error) {
	username := os.Getenv("GEOCAT_USERNAME")
	password := os.Getenv("GEOCAT_PASSWORD")

	var err error
	if username == "" {
		username, err = promptLine("geocat username: ")
		if err != nil {
			return nil, err
		}
	}
	if password == "" {
		password, err = promptSecret("geocat password: ")
		if err != nil {
			return nil, err
		}
	}
	return &geocat.Credentials{Username: username, Password: password}, nil
}

// openDB opens the read-only database connection for the target
// environment: DB_USERNAME and DB_PASSWORD, prompting for whichever is
// missing.
func openDB() (*database.DB, error) {
	env, err := environment()
	if err != nil {
		return nil, err
	}

	username := os.Getenv("DB_USERNAME")
	password := os.Getenv("DB_PASSWORD")
	if username == "" {
		username, err = promptLine("database username: ")
		if err != nil {
			return nil, err
		}
	}
	if password == "" {
		password, err = promptSecret("database password: ")
		if err != nil {
			return nil, err
		}
	}

	return database.Open(env, database.Credentials{Username: username, Password: password})
}

func promptLine(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo when stdin is a terminal, falling back to
// a plain line read otherwise (tests, pipes).
func promptSecret(label string) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(secret), nil
	}
	return promptLine(label)
}

// confirm asks a yes/no question and reports the answer.
func confirm(question string) (bool, error) {
	answer, err := promptLine(question + " [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}
