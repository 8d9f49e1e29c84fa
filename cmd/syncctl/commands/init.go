package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/syncengine/internal/cli/prompt"
	"github.com/nimbusfs/syncengine/pkg/config"
)

var (
	initForce       bool
	initNonInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sync engine configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/syncctl/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize interactively at the default location
  syncctl init

  # Accept every default without prompting
  syncctl init --yes

  # Initialize at a custom path
  syncctl init --config /etc/syncctl/config.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
	initCmd.Flags().BoolVarP(&initNonInteractive, "yes", "y", false, "accept defaults without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := config.GetDefaultConfig()

	if !initNonInteractive {
		storeBackend, err := prompt.SelectString("Select the local file index backend", []string{"wal", "badger", "memory"})
		if err != nil {
			return err
		}
		cfg.Store.Backend = storeBackend

		blobBackend, err := prompt.SelectString("Select the local blob storage backend", []string{"fs", "memory"})
		if err != nil {
			return err
		}
		cfg.Blobstore.Backend = blobBackend
		if blobBackend == "fs" {
			path, err := prompt.Input("Blob storage directory", "/var/lib/syncengine/blobs")
			if err != nil {
				return err
			}
			cfg.Blobstore.Path = path
		}

		remoteMode, err := prompt.SelectString("Select how to reach remote object storage", []string{"signer", "s3", "memory"})
		if err != nil {
			return err
		}
		cfg.Remote.Mode = remoteMode
		if remoteMode == "signer" {
			url, err := prompt.InputRequired("Signer service URL")
			if err != nil {
				return err
			}
			cfg.Remote.Signer.URL = url
		}
		if remoteMode == "s3" {
			bucket, err := prompt.InputRequired("S3 bucket name")
			if err != nil {
				return err
			}
			cfg.Remote.S3.Bucket = bucket
			region, err := prompt.Input("S3 region", "us-east-1")
			if err != nil {
				return err
			}
			cfg.Remote.S3.Region = region
		}
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("generated configuration is invalid: %w", err)
	}

	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	cmd.Printf("Configuration written to %s\n", path)
	cmd.Println("\nNext steps:")
	cmd.Println("  1. Review and edit the configuration file")
	cmd.Println("  2. Check sync status with: syncctl status")
	return nil
}
