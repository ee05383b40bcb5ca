package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/cmd/authctl/admin"
	"github.com/smsinbox/site-api/cmd/authctl/ui"
	"github.com/smsinbox/site-api/internal/auth"
	"github.com/smsinbox/site-api/internal/config"
	"github.com/smsinbox/site-api/internal/database"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Administer the site's auth database",
		Long:          "Run migrations, purge expired auth state, generate session secrets and seed accounts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	migrateCmd := &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE:      runMigrate,
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions, tokens and rate-limit windows",
		RunE:  runPurge,
	}

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Print a random SESSION_SECRET",
		RunE:  runSecret,
	}

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	userCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account (prompts for missing fields)",
		RunE:  runUserCreate,
	}
	userCreateCmd.Flags().String("email", "", "Account email")
	userCreateCmd.Flags().String("password", "", "Account password")
	userCreateCmd.Flags().Bool("verified", false, "Mark the email as verified")

	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(migrateCmd, purgeCmd, secretCmd, userCmd)

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*config.Config, *bun.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	return cfg, db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 && args[0] == "status" {
		ui.PrintTitle("Migration status")
		return database.MigrationStatus(ctx, db)
	}

	goose.SetLogger(goose.NopLogger())
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	version, err := database.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	ui.PrintSuccess("Database is up to date")
	ui.PrintDetail("version", strconv.FormatInt(version, 10))
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := admin.Purge(ctx, db, time.Now())
	if err != nil {
		return err
	}

	ui.PrintSuccess("Purged expired auth state")
	ui.PrintDetail("sessions", strconv.FormatInt(report.Sessions, 10))
	ui.PrintDetail("tokens", strconv.FormatInt(report.Tokens, 10))
	ui.PrintDetail("rate limits", strconv.FormatInt(report.RateLimits, 10))
	if cfg.RateLimit.Backend == "redis" {
		ui.PrintDetail("note", "redis rate-limit keys expire on their own")
	}
	return nil
}

func runSecret(cmd *cobra.Command, args []string) error {
	secret, err := admin.GenerateSecret()
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	verified, _ := cmd.Flags().GetBool("verified")

	u := admin.NewUser{Email: email, Password: password, Verified: verified}

	// Interactive mode when a required flag is missing
	if u.Email == "" || u.Password == "" {
		ui.PrintTitle("Create account")
		if err := ui.RunUserForm(&u); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}
	}

	if err := u.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	created, err := admin.CreateUser(ctx, db, hasher, u)
	if err != nil {
		return err
	}

	ui.PrintSuccess("Account created")
	ui.PrintDetail("id", strconv.FormatInt(created.ID, 10))
	ui.PrintDetail("email", created.Email)
	ui.PrintDetail("verified", strconv.FormatBool(created.EmailVerified))
	return nil
}
