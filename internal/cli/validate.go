package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/filedrop/internal/config"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		enabled := 0
		for _, w := range cfg.Watches {
			if w.Enabled {
				enabled++
			}
		}
		fmt.Printf("configuration OK: %d watches (%d enabled), database %s\n",
			len(cfg.Watches), enabled, cfg.Database.Driver)
		return nil
	},
}
