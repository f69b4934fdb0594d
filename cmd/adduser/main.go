package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"expense-api/internal/auth"
	"expense-api/internal/storage"

	"golang.org/x/term"
)

const defaultDBPath = "expenses.db"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	staff := fs.Bool("staff", false, "Grant staff access to every user's expenses")
	dbPath := fs.String("db", defaultDBPath, "Path to SQLite database file")
	driver := fs.String("driver", "", "Storage driver: sqlite or postgres (default $DB_DRIVER or sqlite)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		fmt.Fprintln(stdout, "Usage: adduser -user <username> [-password <password>] [-staff] [-db <db_path>] [-driver sqlite|postgres]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout) // Print newline after password input
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// Allow overriding db path via env var if not explicitly set via flag (flag default is used)
	if path := os.Getenv("DB_PATH"); path != "" && *dbPath == defaultDBPath {
		*dbPath = path
	}
	if *driver == "" {
		*driver = os.Getenv("DB_DRIVER")
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:      *driver,
		Path:        *dbPath,
		DatabaseURL: os.Getenv("DATABASE_URL"),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	created, err := auth.NewService(store, 0).EnsureUser(ctx, *username, password, *staff)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !created {
		return fmt.Errorf("user %s already exists", *username)
	}

	user, err := store.GetUserByUsername(ctx, strings.TrimSpace(*username))
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	role := "user"
	if user.IsStaff {
		role = "staff user"
	}
	fmt.Fprintf(stdout, "User %s created successfully with ID %d (%s)\n", user.Username, user.ID, role)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
