package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/updrift-io/updrift/internal/agent/diag"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/ota"
)

var (
	agentAddr    string
	historyLimit int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&agentAddr, "agent", "http://127.0.0.1:8690",
		"Base URL of the agent's diagnostics endpoint")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")

	rootCmd.AddCommand(slotsCmd)
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(historyCmd)
}

func getJSON(path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(agentAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFound = fmt.Errorf("not found")

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show the discovered partition layout and each slot's standing",
	RunE: func(cmd *cobra.Command, args []string) error {
		var slots []diag.SlotInfo
		if err := getJSON("/v1/slots", &slots); err != nil {
			return err
		}

		table := uitable.New()
		table.AddRow("LABEL", "TYPE", "ROLE", "BASE", "SIZE", "ACTIVE", "PENDING")
		for _, s := range slots {
			table.AddRow(s.Label, s.Type, s.Role,
				fmt.Sprintf("0x%x", s.Base), fmt.Sprintf("0x%x", s.Size),
				mark(s.Active), mark(s.Pending))
		}
		fmt.Println(table)
		return nil
	},
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Show the persisted boot record",
	RunE: func(cmd *cobra.Command, args []string) error {
		var info diag.BootInfo
		if err := getJSON("/v1/boot", &info); err != nil {
			return err
		}

		table := uitable.New()
		table.AddRow("Active:", info.Active)
		table.AddRow("Pending:", orDash(info.Pending))
		table.AddRow("Pending verify:", fmt.Sprintf("%v", info.PendingVerify))
		table.AddRow("Boot attempts:", fmt.Sprintf("%d", info.BootAttempts))
		table.AddRow("Rollback count:", fmt.Sprintf("%d", info.RollbackCount))
		table.AddRow("Record seq:", fmt.Sprintf("%d", info.Seq))
		fmt.Println(table)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the active or last concluded update session",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap ota.Snapshot
		if err := getJSON("/v1/session", &snap); err != nil {
			if err == errNotFound {
				fmt.Println("No update session.")
				return nil
			}
			return err
		}

		table := uitable.New()
		table.AddRow("Session:", snap.ID)
		table.AddRow("Status:", string(snap.Status))
		table.AddRow("Version:", orDash(snap.Version))
		table.AddRow("Target slot:", snap.Target)
		table.AddRow("Progress:", fmt.Sprintf("%d / %d bytes", snap.Written, snap.Total))
		if snap.Error != "" {
			table.AddRow("Error:", snap.Error)
		}
		table.AddRow("Started:", snap.StartedAt.Format(time.RFC3339))
		if !snap.FinishedAt.IsZero() {
			table.AddRow("Finished:", snap.FinishedAt.Format(time.RFC3339))
		}
		fmt.Println(table)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent update attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []history.Entry
		path := fmt.Sprintf("/v1/history?limit=%d", historyLimit)
		if err := getJSON(path, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No update history.")
			return nil
		}

		table := uitable.New()
		table.MaxColWidth = 48
		table.AddRow("WHEN", "VERSION", "SLOT", "STATUS", "DETAIL")
		for _, e := range entries {
			table.AddRow(e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
				orDash(e.Version), orDash(e.Slot), e.Status, e.Detail)
		}
		fmt.Println(table)
		return nil
	},
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
