// Package cli implements usersctl, the operator tool for the local user
// directory. It talks to the SQLite database directly, so it works while
// the server is down and is how the first SUPERADMIN gets bootstrapped.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/ticket-platform/internal/repository/sqlite"
)

const defaultDatabase = "data/ticket-platform.db"

type rootOptions struct {
	database string
}

// NewRootCmd builds the usersctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "usersctl",
		Short: "Inspect and manage the local user directory",
		Long: `usersctl reads and edits the user directory the auth server keeps in SQLite.

Examples:
  # List the first 20 users
  usersctl list --limit 20

  # Show one user as YAML
  usersctl show ann@example.com -o yaml

  # Promote the first administrator
  usersctl set-role ann@example.com SUPERADMIN
`,
		SilenceUsage: true,
	}

	database := os.Getenv("DATABASE_URL")
	if database == "" {
		database = defaultDatabase
	}
	root.PersistentFlags().StringVar(&opts.database, "db", database, "SQLite database path (defaults to $DATABASE_URL)")

	root.AddCommand(
		newListCmd(opts),
		newShowCmd(opts),
		newSetRoleCmd(opts),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// withDB opens the directory for the duration of fn.
func (o *rootOptions) withDB(fn func(db *sqlite.DB) error) error {
	if _, err := os.Stat(o.database); err != nil {
		return fmt.Errorf("database %s: %w", o.database, err)
	}
	db, err := sqlite.New(o.database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
