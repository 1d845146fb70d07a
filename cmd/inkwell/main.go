package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"inkwell/internal/app"
	"inkwell/internal/config"
	"inkwell/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an InkwellApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "SaveProject", "Recover").
func newApp(cmd *cobra.Command, operation string) (*app.InkwellApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewInkwellApp(cmd.Context(), cfg, operation, readPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase takes the passphrase from INKWELL_PASSPHRASE or prompts for
// it on the terminal without echo.
func readPassphrase() (string, error) {
	if p := os.Getenv(app.PassphraseEnv); p != "" {
		return p, nil
	}
	return promptPassphrase("Passphrase: ")
}

func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for passphrase prompt; set %s", app.PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	p, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(p), nil
}

// readInput returns the contents of path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

var rootCmd = &cobra.Command{
	Use:          "inkwell",
	Short:        "Durable local storage for writing projects",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		if storage, _ := cmd.Flags().GetString("storage"); storage != "" {
			cfg.Storage.Type = storage
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if !enc.IsConfigured() {
			pass, err := newPassphrase()
			if err != nil {
				return err
			}
			if err := enc.Setup(pass); err != nil {
				return fmt.Errorf("setting up encryption: %w", err)
			}
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		fmt.Printf("Storage:   %s\n", cfg.Storage.Type)
		return nil
	},
}

// newPassphrase asks for a passphrase twice, or takes it from the environment.
func newPassphrase() (string, error) {
	if p := os.Getenv(app.PassphraseEnv); p != "" {
		return p, nil
	}
	first, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	second, err := promptPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	if first == "" {
		return "", errors.New("passphrase must not be empty")
	}
	return first, nil
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Storage:    %s %s\n", cfg.Storage.Type, cfg.Storage.DataDir)
		fmt.Printf("Remote:     %s\n", cfg.Remote.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		if enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption); err == nil {
			if age, ok := enc.(*encryption.AgeEncryptor); ok && age.IsConfigured() {
				key, err := age.PublicKey()
				if err != nil {
					return err
				}
				fmt.Printf("Recipient:  %s\n", key)
			}
		}
		if cfg.Connectivity.ProbeAddress != "" {
			fmt.Printf("Probe:      %s every %s\n", cfg.Connectivity.ProbeAddress, cfg.Connectivity.ProbeInterval)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("storage", "", "Storage backend (memory, sqlite, badger)")
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(shadowCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(syncCmd)
}
