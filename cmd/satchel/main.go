// Command satchel mirrors a grade of the curriculum onto this device and
// serves it offline.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/satchel-learn/satchel/internal/config"
	"github.com/satchel-learn/satchel/internal/logging"
)

// skipConfig marks commands that run without loading the config.
const skipConfig = "skip-config"

var (
	configPath   string
	outputFormat string

	cfg  *config.Config
	logs *logging.Logging
)

var rootCmd = &cobra.Command{
	Use:   "satchel",
	Short: "Offline-first curriculum mirror",
	Long: `satchel keeps one grade of the curriculum on this device.

It reconciles subjects, topics, lessons and assessments from the remote
curriculum database (or a snapshot file) into a local SQLite mirror,
downloads lesson media on demand and answers every read from the mirror,
so learning continues without a connection.

Getting started:
  satchel login              # Create your profile and mirror your grade
  satchel subjects           # Browse the mirrored subjects
  satchel search fractions   # Find subjects, topics and lessons
  satchel download <lesson>  # Keep a lesson's video or PDF offline`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("--output must be text, json or yaml")
		}

		// config init has to work when the existing file is broken.
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logs = logging.New(cfg.Log)
		configureColor(os.Stdout)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "mirror", Title: "Mirror:"},
		&cobra.Group{ID: "browse", Title: "Browse:"},
		&cobra.Group{ID: "media", Title: "Media:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $SATCHEL_HOME/satchel.toml or ~/.satchel/satchel.toml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")
}

// logger returns a component logger from the configured output.
func logger(component string) *log.Logger {
	if logs == nil {
		return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
	}
	return logs.Logger(component)
}

// fatal prints an error and exits with status 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if logs != nil {
		_ = logs.Close()
	}
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
