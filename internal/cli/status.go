package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/filedrop/internal/config"
)

var statusAddr string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "Control surface address (default from config)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon's status and statistics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr = cfg.HTTPAddr
	}
	if addr == "" {
		return fmt.Errorf("control surface disabled; pass --addr")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/status", "/statistics", "/health"} {
		resp, err := client.Get("http://" + addr + path)
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s: %w", addr, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		fmt.Printf("== %s ==\n%s\n", path, body)
	}
	return nil
}
