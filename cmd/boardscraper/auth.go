package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"boardscraper/pkg/auth"
	"boardscraper/pkg/config"
	"boardscraper/pkg/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage session cookies for boards that need a login",
	Long: `Manage the session cookies sent with listing requests, one per host.

Cookies are kept in:
  - The system keychain (when available)
  - An AES-GCM encrypted file with a PBKDF2 derived key
  - BOARDSCRAPER_COOKIE (read only)

A cookie grants access to your account. Never share it.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set [host]",
	Short: "Store the session cookie for a host",
	Long: `Store the session cookie for a host. Without an argument the host of
the configured endpoint is used. The cookie is read from the terminal
without echo.`,
	Example: `  boardscraper auth set
  boardscraper auth set bbs.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthSet,
}

var authClearCmd = &cobra.Command{
	Use:   "clear [host]",
	Short: "Delete the stored cookie for a host",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthClear,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hosts with a stored cookie",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authClearCmd)
	authCmd.AddCommand(authListCmd)
}

// resolveHost picks the host argument, falling back to the configured endpoint
func resolveHost(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return auth.NormalizeHost(args[0]), nil
	}
	cfg, err := config.LoadLenient(configFile, changedFlags(cmd))
	if err != nil {
		return "", err
	}
	if cfg.API.Endpoint == "" {
		return "", errors.New("no host given and no endpoint configured")
	}
	return auth.HostOf(cfg.API.Endpoint)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(cmd, args)
	if err != nil {
		return err
	}

	auth.WriteCookieGuide(os.Stdout, host)
	fmt.Println()
	fmt.Print("Cookie: ")
	cookie, err := readSecret()
	if err != nil {
		return fmt.Errorf("failed to read cookie: %w", err)
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	if err := manager.Store(&auth.Credential{Host: host, Cookie: cookie}); err != nil {
		return fmt.Errorf("failed to store cookie: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Cookie stored for %s", host))
	return nil
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	host, err := resolveHost(cmd, args)
	if err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	if err := manager.Delete(host); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No cookie stored for", host)
			return nil
		}
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Cookie deleted for %s", host))
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	creds, err := manager.List()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Println("No stored cookies. Add one with: boardscraper auth set <host>")
		return nil
	}

	for _, cred := range creds {
		masked := auth.Sanitize(cred)
		updated := "unknown"
		if !cred.LastModified.IsZero() {
			updated = cred.LastModified.Format(time.DateTime)
		}
		fmt.Printf("  %s  %s  %s\n", ui.Cyan(masked.Host), masked.Cookie, ui.Dim(updated))
	}
	return nil
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
