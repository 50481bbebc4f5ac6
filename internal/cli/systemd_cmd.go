package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/systemd"
)

var systemdRecordHash bool

func init() {
	rootCmd.AddCommand(systemdCmd)
	systemdCmd.Flags().BoolVar(&systemdRecordHash, "record-hash", false, "Record the installed unit file hash as the drift baseline")
}

var systemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Print a hardened systemd unit for this configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if systemdRecordHash {
			if err := systemd.RecordUnitFileHash(cfg.StateDir); err != nil {
				return err
			}
			fmt.Println("unit file hash recorded")
			return nil
		}

		rw := make([]string, 0, len(cfg.Watches)*2)
		for _, w := range cfg.Watches {
			rw = append(rw, w.WatchDir)
			qd := w.QueueDir()
			rw = append(rw, qd)
		}
		fmt.Print(systemd.UnitTemplate(resolvedConfigPath(), cfg.StateDir, rw))
		return nil
	},
}
