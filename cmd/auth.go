package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/dinbutler/obox/internal/config"
)

const (
	keyringService = "obox"
	keyringUser    = "anthropic_api_key"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Anthropic API key in the OS keyring",
}

var authSetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store the API key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) > 0 {
			key = args[0]
		} else {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("Anthropic API key").
					EchoMode(huh.EchoModePassword).
					Value(&key),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("key must not be empty")
		}
		if err := keyring.Set(keyringService, keyringUser, key); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
		fmt.Println("API key stored in keyring")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the API key would be read from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		source, err := apiKeySource(cfg)
		if err != nil {
			fmt.Println("No API key configured. Run: obox auth set")
			return nil
		}
		fmt.Printf("API key source: %s\n", source)
		return nil
	},
}

var authClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the API key from the keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := keyring.Delete(keyringService, keyringUser); err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				fmt.Println("No key stored")
				return nil
			}
			return err
		}
		fmt.Println("API key removed from keyring")
		return nil
	},
}

func init() {
	authCmd.AddCommand(authSetCmd, authStatusCmd, authClearCmd)
	rootCmd.AddCommand(authCmd)
}

// resolveAPIKey finds the key: config/env first (env overlays the
// config at load time), then the OS keyring.
func resolveAPIKey(cfg *config.Config) (string, error) {
	if cfg.Provider.APIKey != "" {
		return cfg.Provider.APIKey, nil
	}
	key, err := keyring.Get(keyringService, keyringUser)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key found: set ANTHROPIC_API_KEY or run `obox auth set`")
}

func apiKeySource(cfg *config.Config) (string, error) {
	if cfg.Provider.APIKey != "" {
		return "config or environment", nil
	}
	if key, err := keyring.Get(keyringService, keyringUser); err == nil && key != "" {
		return "OS keyring", nil
	}
	return "", errors.New("not configured")
}
