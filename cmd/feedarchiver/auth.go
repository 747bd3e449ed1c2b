package main

import (
	"bufio"
	"fmt"
	"strings"
	"syscall"
	"time"

	"feedarchiver/pkg/auth"
	"feedarchiver/pkg/config"
	"feedarchiver/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage feed credentials",
	Long: `Manage the email and password used to sign in to the feed.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables FEEDARCHIVER_EMAIL / FEEDARCHIVER_PASSWORD (read only)`,
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Store credentials securely",
	Example: `  # Interactive login
  feedarchiver auth login

  # Login with the email given up front
  feedarchiver auth login parent@example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [email]",
	Short: "Remove stored credentials",
	Long: `Remove stored credentials. Without an email the only stored account is
removed after confirmation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(cmd.InOrStdin())

	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Fprint(ui.Output, "Email: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(input)
	}

	if existing, _ := manager.Retrieve(email); existing != nil {
		fmt.Fprintf(ui.Output, "Account '%s' already exists. Update credentials? (y/N): ", existing.Email)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(ui.Output, "Password: ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	account := &auth.Account{
		Email:        email,
		Password:     password,
		Site:         auth.SiteOf(cfg.Site.LoginURL),
		LastModified: time.Now(),
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Account saved: %s (%s)", account.Email, account.Site))
	fmt.Fprintln(ui.Output, "\nStart archiving with:")
	fmt.Fprintln(ui.Output, "  $ feedarchiver run")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if len(args) > 0 {
		if err := manager.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove account: %w", err)
		}
		ui.PrintSuccess("Account removed: " + args[0])
		return nil
	}

	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintWarning("No stored accounts found")
		return nil
	}
	if len(accounts) > 1 {
		return fmt.Errorf("%d accounts stored, name the one to remove", len(accounts))
	}

	account := accounts[0]
	fmt.Fprintf(ui.Output, "Remove account '%s'? (y/N): ", account.Email)
	input, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		return nil
	}
	if err := manager.Delete(account.Email); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + account.Email)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'feedarchiver auth login' to add an account")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Fprintf(ui.Output, "%d. %s\n", i+1, sanitized.Email)
		fmt.Fprintf(ui.Output, "   Password: %s\n", sanitized.Password)
		if sanitized.Site != "" {
			fmt.Fprintf(ui.Output, "   Site: %s\n", sanitized.Site)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Fprintf(ui.Output, "   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

// readPassword reads a password without echo when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(ui.Output)
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
