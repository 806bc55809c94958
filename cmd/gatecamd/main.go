package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gatecam/internal/app"
	"gatecam/internal/config"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "gatecamd",
		Short: "Trigger-driven RTSP capture daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("bind-ip", "0.0.0.0", "HTTP bind address")
	flags.Int("bind-port", 9000, "HTTP bind port")
	flags.String("storage-dir", "images", "directory JPEGs are written to")
	flags.String("database-path", "data/gatecam.db", "SQLite database path")
	flags.String("log-dir", "logs", "directory per-level log files are written to")
	flags.String("env-file", ".env", "hot-reloadable settings file")
	flags.Bool("gpio-enabled", false, "enable the GPIO event loop (requires /sys/class/gpio)")
	flags.Bool("web-auth-enabled", true, "require a login session for the HTTP facade")

	v.BindPFlags(flags)

	return cmd
}

// run resolves cold settings the same way config.LoadCold resolves every
// other cold key (GPIO pins included): load the settings file named by
// --env-file/ENV_FILE into the process environment, then read through
// os.Getenv, with an explicitly-passed CLI flag taking precedence over
// whatever the environment supplies.
func run(cmd *cobra.Command, v *viper.Viper) error {
	envFile := v.GetString("env-file")
	_ = godotenv.Load(envFile)

	cold := config.LoadCold(os.Getenv)
	cold.EnvFile = envFile

	flags := cmd.Flags()
	if flags.Changed("bind-ip") {
		cold.BindIP = v.GetString("bind-ip")
	}
	if flags.Changed("bind-port") {
		cold.BindPort = v.GetInt("bind-port")
	}
	if flags.Changed("storage-dir") {
		cold.StorageDir = v.GetString("storage-dir")
	}
	if flags.Changed("database-path") {
		cold.DatabasePath = v.GetString("database-path")
	}
	if flags.Changed("log-dir") {
		cold.LogDir = v.GetString("log-dir")
	}
	if flags.Changed("gpio-enabled") {
		cold.GPIOEnabled = v.GetBool("gpio-enabled")
	}
	if flags.Changed("web-auth-enabled") {
		cold.WebAuthEnabled = v.GetBool("web-auth-enabled")
	}

	a, err := app.New(cold)
	if err != nil {
		return fmt.Errorf("gatecamd: %w", err)
	}

	return a.Run(context.Background())
}
