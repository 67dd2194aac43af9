package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/registry-submit/internal/credential"
	"github.com/nhle/registry-submit/internal/model"
)

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Create or update the configuration interactively",
		Long: `Prompt for the mailbox, form and sheet settings, store the mailbox
password in the system keyring and write the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := model.LoadConfig(path)
			if err != nil {
				return err
			}

			var (
				password   string
				keepSecret bool
			)
			if err := buildConfigForm(cfg, &password, &keepSecret).Run(); err != nil {
				return err
			}

			if password != "" {
				if err := credential.Set(credential.MailboxPasswordKey+cfg.Mailbox.Username, password); err != nil {
					return fmt.Errorf("saving mailbox password: %w", err)
				}
			}
			if keepSecret && cfg.Sheet.CredentialsFile != "" {
				if err := storeServiceAccount(cfg.Sheet.CredentialsFile); err != nil {
					return err
				}
				cfg.Sheet.CredentialsFile = ""
			}

			if err := model.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)

			if err := cfg.Validate(); err != nil {
				fmt.Printf("Warning: %v\n", err)
			}
			return nil
		},
	}
}

// storeServiceAccount moves a service-account key file into the keyring.
func storeServiceAccount(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading service account %s: %w", path, err)
	}
	if err := credential.Set(credential.SheetCredentialsKey, string(data)); err != nil {
		return fmt.Errorf("saving service account: %w", err)
	}
	return nil
}

func buildConfigForm(cfg *model.AppConfig, password *string, keepSecret *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("Mailbox that receives the one-time passcodes").
				Placeholder("imap.example.com").
				Value(&cfg.Mailbox.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&cfg.Mailbox.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Placeholder("user@example.com").
				Value(&cfg.Mailbox.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring. Leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(password),
			huh.NewInput().
				Title("OTP Sender").
				Description("From address of the passcode emails").
				Value(&cfg.Mailbox.Sender).
				Validate(validateRequired("OTP Sender")),
			huh.NewConfirm().
				Title("Use TLS").
				Affirmative("Yes").
				Negative("No").
				Value(&cfg.Mailbox.TLS),
		).Title("Mailbox"),
		huh.NewGroup(
			huh.NewInput().
				Title("Form URL").
				Placeholder("https://registry.example.com/register").
				Value(&cfg.Form.URL).
				Validate(validateURL),
			huh.NewInput().
				Title("Contact Name").
				Value(&cfg.Form.Profile.ContactName),
			huh.NewInput().
				Title("Contact Email").
				Value(&cfg.Form.Profile.ContactEmail),
			huh.NewInput().
				Title("Company Name").
				Value(&cfg.Form.Profile.CompanyName),
			huh.NewConfirm().
				Title("Run Chrome headless").
				Affirmative("Yes").
				Negative("No").
				Value(&cfg.Browser.Headless),
		).Title("Registry Form"),
		huh.NewGroup(
			huh.NewInput().
				Title("Spreadsheet ID").
				Value(&cfg.Sheet.SpreadsheetID).
				Validate(validateRequired("Spreadsheet ID")),
			huh.NewInput().
				Title("Input Range").
				Value(&cfg.Sheet.InputRange),
			huh.NewInput().
				Title("Output Range").
				Value(&cfg.Sheet.OutputRange),
			huh.NewInput().
				Title("Service Account File").
				Description("Path to a Google service-account JSON key").
				Value(&cfg.Sheet.CredentialsFile),
			huh.NewConfirm().
				Title("Store the key in the system keyring").
				Description("The file path is then dropped from the config").
				Affirmative("Yes").
				Negative("No").
				Value(keepSecret),
		).Title("Google Sheet"),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("port must be a number")
		}
	}
	return nil
}
