package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/config"
	"github.com/fyrsmithlabs/backlogd/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions under the session root",
	Long: `Sessions lists every session directory under the configured root with
its sequence number, document hash, creation time, and parent linkage.

Examples:
  backlogd sessions
  backlogd sessions --sessions ./plan`,
	RunE: runSessions,
}

var flagListRoot string

func init() {
	sessionsCmd.Flags().StringVar(&flagListRoot, "sessions", "", "session root directory (overrides config)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagListRoot != "" {
		cfg.SessionRoot = flagListRoot
	}

	manager, err := session.NewManager(cfg.SessionRoot, zap.NewNop())
	if err != nil {
		return err
	}

	infos, err := manager.Sessions()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	for _, info := range infos {
		line := fmt.Sprintf("%s  created %s", info.Name, info.CreatedAt.Format("2006-01-02 15:04:05"))
		if info.ParentDir != "" {
			line += fmt.Sprintf("  parent %s", info.ParentDir)
		}
		fmt.Println(line)
	}
	return nil
}
