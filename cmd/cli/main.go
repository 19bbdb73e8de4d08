package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourorg/booklending/internal/infrastructure/logger"
	"github.com/yourorg/booklending/internal/repository"
	"github.com/yourorg/booklending/pkg/config"
	"github.com/yourorg/booklending/pkg/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL, token string

	root := &cobra.Command{
		Use:           "booklending",
		Short:         "Command line client for the book lending API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("BOOKLENDING_API", defaultAPIURL), "API base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (defaults to BOOKLENDING_TOKEN or the saved login)")

	client := func() *apiClient {
		t := token
		if t == "" {
			t = loadToken()
		}
		return newAPIClient(apiURL, t)
	}

	root.AddCommand(
		newRegisterCmd(client),
		newLoginCmd(client),
		newLogoutCmd(),
		newBooksCmd(client),
		newBorrowCmd(client),
		newReturnCmd(client),
		newTransactionsCmd(client),
		newMigrateCmd(),
	)
	return root
}

func newRegisterCmd(client func() *apiClient) *cobra.Command {
	var name, email, password, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(password)
			if err != nil {
				return err
			}
			u, err := client().register(cmd.Context(), name, email, pw, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Registered %s (%s, id %s)\n", u.Email, u.Role, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&role, "role", "", "normal or manager")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(client func() *apiClient) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(password)
			if err != nil {
				return err
			}
			res, err := client().login(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			if err := saveToken(res.Token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Logged in as %s (token valid for %ds)\n", email, res.ExpiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.Remove(tokenFile()); err != nil && !os.IsNotExist(err) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
			return nil
		},
	}
}

func newBooksCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := client().listBooks(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tAVAILABLE")
			for _, b := range books {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.ID, b.Title, b.Author, b.Quantity)
			}
			return w.Flush()
		},
	}

	var title, author string
	var quantity int
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book (managers only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := client().addBook(cmd.Context(), title, author, quantity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added %q with %d copies (id %s)\n", b.Title, b.Quantity, b.ID)
			return nil
		},
	}
	add.Flags().StringVar(&title, "title", "", "book title")
	add.Flags().StringVar(&author, "author", "", "book author")
	add.Flags().IntVar(&quantity, "quantity", 1, "copies on the shelf")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("author")

	cmd.AddCommand(add)
	return cmd
}

func newBorrowCmd(client func() *apiClient) *cobra.Command {
	var quantity int
	cmd := &cobra.Command{
		Use:   "borrow BOOK_ID",
		Short: "Borrow copies of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := client().borrow(cmd.Context(), args[0], quantity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Borrowed %d of %s (transaction %s)\n", t.Quantity, t.BookID, t.ID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&quantity, "quantity", "n", 1, "number of copies")
	return cmd
}

func newReturnCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "return TRANSACTION_ID",
		Short: "Return a borrowed transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().returnBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Returned %s\n", args[0])
			return nil
		},
	}
}

func newTransactionsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:     "transactions [ID]",
		Aliases: []string{"tx"},
		Short:   "List your transactions or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if len(args) == 1 {
				t, err := c.transaction(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ID:       %s\nBook:     %s\nUser:     %s\nQuantity: %d\nType:     %s\nStatus:   %s\nCreated:  %s\n",
					t.ID, t.BookID, t.UserID, t.Quantity, t.Type, t.Status, t.CreatedAt.Format("2006-01-02 15:04:05"))
				return nil
			}

			list, err := c.transactions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBOOK\tQTY\tSTATUS\tCREATED")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.BookID, t.Quantity, t.Status, t.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

// newMigrateCmd applies the schema directly using the server's DB settings.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DBDriver == config.DriverMemory {
				return fmt.Errorf("nothing to migrate for DB_DRIVER=memory")
			}
			log := logger.NewLogger(cfg.LogLevel, "text")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := database.NewConnectionPool(ctx, &database.Config{
				Driver:       cfg.DBDriver,
				DSN:          cfg.DSN(),
				MaxOpenConns: 1,
				MaxIdleConns: 1,
			}, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool.GetDB()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Schema up to date (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

// passwordOrPrompt reads a password without echo when none was passed.
func passwordOrPrompt(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}
	fmt.Print("Password: ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
