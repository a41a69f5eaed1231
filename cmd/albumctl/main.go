// Command albumctl works directly against the album database and the file
// system: scanning and querying DICOM directories, managing albums and users,
// and exporting albums to another database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stevecastle/dicomalbum/appconfig"
	"github.com/stevecastle/dicomalbum/logger"
	"github.com/stevecastle/dicomalbum/store"
)

var (
	dbFlag       string
	albumsFlag   string
	logLevelFlag string
	rootCmd      = &cobra.Command{
		Use:           "albumctl",
		Short:         "Scan, query and manage DICOM albums from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Path to the album database (defaults to the configured path)")
	rootCmd.PersistentFlags().StringVar(&albumsFlag, "albums-dir", "", "Album storage directory (defaults to the configured path)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: debug | info | warn | error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return logger.New("albumctl", logger.Config{Level: logLevelFlag, Pretty: true, Output: os.Stderr})
}

// config returns the stored configuration with environment overrides and
// flag values applied.
func config() (appconfig.Config, error) {
	cfg, err := appconfig.LoadFrom(appconfig.ConfigPath())
	if err != nil {
		return cfg, err
	}
	if err := appconfig.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	if albumsFlag != "" {
		cfg.AlbumsDir = albumsFlag
	}
	return cfg, nil
}

func openStore(ctx context.Context, log zerolog.Logger) (*store.Store, appconfig.Config, error) {
	cfg, err := config()
	if err != nil {
		return nil, cfg, err
	}
	s, err := store.Open(ctx, cfg.DBPath, log)
	return s, cfg, err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
