package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"library-loans/library"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const dbFile = "library.db"

type app struct {
	driver   string
	dsn      string
	logLevel string
	jsonOut  bool
	staff    string

	mgr *library.LibraryManager
	log *slog.Logger
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Manage books, members and loans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.HasParent() && cmd.Parent().Name() == "completion" {
				return nil
			}
			return a.open(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.driver, "driver", envOr("LIBRARY_DRIVER", library.DriverSQLite), "database driver (sqlite3 or postgres)")
	f.StringVar(&a.dsn, "db", envOr("LIBRARY_DB", dbFile), "SQLite file or Postgres connection string")
	f.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.BoolVar(&a.jsonOut, "json", false, "print JSON instead of tables")
	f.StringVar(&a.staff, "staff", "", "staff username for administrative commands")

	root.AddCommand(
		newAuthorCmd(a),
		newBookCmd(a),
		newTagCmd(a),
		newMemberCmd(a),
		newLoanCmd(a),
		newStaffCmd(a),
		newImportCmd(a),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	mgr, err := library.NewLibraryManager(cmd.Context(), library.Config{
		Driver: a.driver,
		DSN:    a.dsn,
		Logger: a.log,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.mgr = mgr
	return nil
}

// close releases the database whether or not the command succeeded.
func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Close()
	a.mgr = nil
	return err
}

// print writes v as JSON when --json is set and calls text otherwise.
func (a *app) print(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if !a.jsonOut {
		text(w)
		return nil
	}
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// requireStaff authenticates the --staff user before an administrative
// command runs.
func (a *app) requireStaff(ctx context.Context) error {
	if a.staff == "" {
		return fmt.Errorf("this command requires --staff")
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", a.staff))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	st, err := a.mgr.AuthenticateStaff(ctx, a.staff, password)
	if err != nil {
		return err
	}
	a.log.Info("staff authenticated", "staff_id", st.ID, "username", st.Username)
	return nil
}

// readPassword reads a password with masking. LIBRARY_STAFF_PASSWORD takes
// precedence for scripted use.
func readPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv("LIBRARY_STAFF_PASSWORD"); ok {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
