package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/spf13/cobra"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/session"
)

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}
	cmd.AddCommand(orgCreateCmd())
	return cmd
}

func orgCreateCmd() *cobra.Command {
	var (
		orgSlug    string
		visibility string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if orgSlug == "" {
				orgSlug = slug.Make(name)
			}
			if !slug.IsSlug(orgSlug) {
				return fmt.Errorf("invalid slug %q", orgSlug)
			}
			if !access.ValidVisibility(visibility) {
				return fmt.Errorf("invalid default visibility %q: must be org or private", visibility)
			}

			cfg, logger, err := env()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			org := &db.Organization{
				ID:   uuid.New(),
				Name: name,
				Slug: orgSlug,
				Settings: db.OrganizationSettings{
					EmailNotifications: true,
					DefaultVisibility:  visibility,
				},
			}
			if err := store.CreateOrganization(cmd.Context(), org); err != nil {
				return fmt.Errorf("create organization: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "organization %s created (slug %s)\n", org.ID, org.Slug)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgSlug, "slug", "", "URL slug (derived from the name when empty)")
	cmd.Flags().StringVar(&visibility, "default-visibility", access.VisibilityOrg, "Visibility of new records: org or private")

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var (
		orgID string
		email string
		name  string
		phone string
		role  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user in an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("invalid --org: %w", err)
			}
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid --email %q", email)
			}
			if !access.ValidRole(role) {
				return fmt.Errorf("invalid --role %q: must be user, manager or admin", role)
			}
			if name == "" {
				name = strings.Split(email, "@")[0]
			}

			cfg, logger, err := env()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if _, err := store.GetOrganization(cmd.Context(), org); err != nil {
				return fmt.Errorf("load organization %s: %w", org, err)
			}

			u := &db.User{
				ID:             uuid.New(),
				OrganizationID: org,
				Email:          strings.ToLower(email),
				Name:           name,
				Role:           role,
				IsActive:       true,
			}
			if phone != "" {
				u.Phone = &phone
			}
			if err := store.CreateUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "user %s created (%s, %s)\n", u.ID, u.Email, u.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the email local part)")
	cmd.Flags().StringVar(&phone, "phone", "", "E.164 phone number for SMS")
	cmd.Flags().StringVar(&role, "role", access.RoleUser, "Role: user, manager or admin")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user",
		Long: `Mint a bearer token for an active user, signed with JWT_SECRET and valid
for TOKEN_TTL. Prints the token alone so it can be captured by scripts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			cfg, logger, err := env()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			u, err := store.GetUser(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load user: %w", err)
			}
			if !u.IsActive {
				return fmt.Errorf("user %s is deactivated", u.ID)
			}

			token, err := session.NewIssuer(cfg.JWTSecret, cfg.TokenTTL).Issue(session.Session{
				UserID:         u.ID,
				OrganizationID: u.OrganizationID,
				Role:           u.Role,
			})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
