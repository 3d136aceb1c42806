package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/domain/services"
	"github.com/devilmonastery/critterforge/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/critterforge/internal/pkg/idgen"
	"github.com/devilmonastery/critterforge/migrations"
)

func newUserCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
		Long:  "Commands for managing Critterforge identities in the database",
	}

	cmd.AddCommand(newUserListCommand(configPath))
	cmd.AddCommand(newUserSetRoleCommand(configPath))
	cmd.AddCommand(newUserDeactivateCommand(configPath))
	cmd.AddCommand(newUserDeleteCommand(configPath))

	return cmd
}

func newUserListCommand(configPath *string) *cobra.Command {
	var (
		limit  int
		offset int
		search string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Example: `  server user list --search example.com
  server user list --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := repositories.ListUsersOptions{Limit: limit, Offset: offset, Search: search}
			if role != "" {
				r, ok := entities.ParseRole(role)
				if !ok {
					return fmt.Errorf("invalid role: %s (must be 'user' or 'admin')", role)
				}
				opts.Role = &r
			}

			return withIdentities(cmd.Context(), *configPath, func(ctx context.Context, identities *services.IdentityService) error {
				users, total, err := identities.ListUsers(ctx, opts)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tACTIVE\tLAST LOGIN")
				for _, u := range users {
					lastLogin := "-"
					if u.LastLogin != nil {
						lastLogin = u.LastLogin.Format("2006-01-02 15:04")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", u.ID, u.Email, u.Name, u.Role, u.IsActive, lastLogin)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				cmd.Printf("\n%d of %d identities\n", len(users), total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of identities")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of identities to skip")
	cmd.Flags().StringVar(&search, "search", "", "Match name or email")
	cmd.Flags().StringVar(&role, "role", "", "Only list this role (user, admin)")

	return cmd
}

func newUserSetRoleCommand(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "set-role USER_ID ROLE",
		Short:   "Change the role of an identity",
		Example: `  server user set-role 1790246713492381696 admin`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := entities.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("invalid role: %s (must be 'user' or 'admin')", args[1])
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Set role of %s to %s?", args[0], role)) {
				return fmt.Errorf("aborted")
			}

			return withIdentities(cmd.Context(), *configPath, func(ctx context.Context, identities *services.IdentityService) error {
				if err := identities.SetRole(ctx, args[0], role); err != nil {
					return err
				}
				cmd.Printf("%s is now %s\n", args[0], role)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newUserDeactivateCommand(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "deactivate USER_ID",
		Short: "Block an identity from logging in",
		Long:  "Block an identity from logging in. Sessions already issued stay valid until they expire but are refused by the creature pipeline.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, fmt.Sprintf("Deactivate %s?", args[0])) {
				return fmt.Errorf("aborted")
			}

			return withIdentities(cmd.Context(), *configPath, func(ctx context.Context, identities *services.IdentityService) error {
				if err := identities.Deactivate(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("%s deactivated\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newUserDeleteCommand(configPath *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete USER_ID",
		Short: "Soft-delete an identity",
		Long:  "Mark an identity deleted. The row is kept, the email can no longer log in and the profile answers 404.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, fmt.Sprintf("Delete %s?", args[0])) {
				return fmt.Errorf("aborted")
			}

			return withIdentities(cmd.Context(), *configPath, func(ctx context.Context, identities *services.IdentityService) error {
				if err := identities.Delete(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("%s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// withIdentities runs fn against the configured database. Migrations are
// applied first so the CLI works against a fresh database.
func withIdentities(ctx context.Context, configPath string, fn func(context.Context, *services.IdentityService) error) error {
	if err := idgen.Initialize(1); err != nil {
		return fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	_, pgConn, err := openDatabase(ctx, configPath)
	if err != nil {
		return err
	}
	defer pgConn.Close()

	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	identities := services.NewIdentityService(
		postgres.NewUserRepository(pgConn.DB),
		postgres.NewAuditRepository(pgConn.DB),
	)
	return fn(ctx, identities)
}

// confirm asks on the terminal. Without a terminal on stdin it refuses so
// scripts have to pass --yes.
func confirm(cmd *cobra.Command, question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		cmd.PrintErrln("stdin is not a terminal, pass --yes to confirm")
		return false
	}
	return ask(cmd.InOrStdin(), cmd.OutOrStdout(), question)
}

func ask(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
