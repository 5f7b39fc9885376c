package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sakif/ticket-platform/internal/model"
	"github.com/sakif/ticket-platform/internal/repository"
	"github.com/sakif/ticket-platform/internal/repository/sqlite"
)

// userRecord is the operator's view of a user, linked subject included.
type userRecord struct {
	ID         string    `json:"id"                   yaml:"id"`
	Email      string    `json:"email"                yaml:"email"`
	Name       string    `json:"name"                 yaml:"name"`
	Role       string    `json:"role"                 yaml:"role"`
	IsVerified bool      `json:"is_verified"          yaml:"is_verified"`
	SubjectID  string    `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"           yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"           yaml:"updated_at"`
}

func recordOf(u *model.User) userRecord {
	return userRecord{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       string(u.Role),
		IsVerified: u.IsVerified,
		SubjectID:  u.SubjectID,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func render(w io.Writer, format string, v any, table func(*tabwriter.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// normalizeEmail matches the form emails are stored in.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		offset int
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDB(func(db *sqlite.DB) error {
				users, err := db.List(cmd.Context(), repository.ListOptions{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				records := make([]userRecord, len(users))
				for i := range users {
					records[i] = recordOf(&users[i])
				}
				return render(cmd.OutOrStdout(), output, records, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tVERIFIED\tLINKED")
					for _, r := range records {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", r.ID, r.Email, r.Role, r.IsVerified, r.SubjectID != "")
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of users")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of users to skip")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <email>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(func(db *sqlite.DB) error {
				user, err := db.FindByEmail(cmd.Context(), normalizeEmail(args[0]))
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("no user with email %s", args[0])
				}
				record := recordOf(user)
				return render(cmd.OutOrStdout(), output, record, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "ID:\t%s\n", record.ID)
					fmt.Fprintf(tw, "Email:\t%s\n", record.Email)
					fmt.Fprintf(tw, "Name:\t%s\n", record.Name)
					fmt.Fprintf(tw, "Role:\t%s\n", record.Role)
					fmt.Fprintf(tw, "Verified:\t%t\n", record.IsVerified)
					fmt.Fprintf(tw, "Subject:\t%s\n", record.SubjectID)
					fmt.Fprintf(tw, "Created:\t%s\n", record.CreatedAt.Format(time.RFC3339))
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newSetRoleCmd(opts *rootOptions) *cobra.Command {
	roles := make([]string, len(model.AllRoles))
	for i, r := range model.AllRoles {
		roles[i] = string(r)
	}

	return &cobra.Command{
		Use:       "set-role <email> <role>",
		Short:     "Change a user's role",
		Long:      "Change a user's role. Valid roles: " + strings.Join(roles, ", "),
		Args:      cobra.ExactArgs(2),
		ValidArgs: roles,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := model.ParseRole(strings.ToUpper(args[1]))
			if err != nil {
				return fmt.Errorf("invalid role %q (valid: %s)", args[1], strings.Join(roles, ", "))
			}
			return opts.withDB(func(db *sqlite.DB) error {
				user, err := db.FindByEmail(cmd.Context(), normalizeEmail(args[0]))
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("no user with email %s", args[0])
				}
				if user.Role == role {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", user.Email, role)
					return nil
				}
				from := user.Role
				user.Role = role
				if err := db.Update(cmd.Context(), user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", user.Email, from, role)
				return nil
			})
		},
	}
}
