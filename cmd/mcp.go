package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/ait/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Tools act as the signed-in user ('ait login' first) and are gated by the
same role rules as the web views. Configure a client with:

  {
    "mcpServers": {
      "ait": { "command": "ait", "args": ["mcp"] }
    }
  }

Available tools: ait_whoami, ait_list_issues, ait_get_issue,
ait_submit_issue, ait_suggest_triage, ait_update_issue_status,
ait_assign_issue, ait_list_lecturers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := getApp(cmd.Context())
		if err != nil {
			return err
		}
		return mcp.NewServer(d.router, d.issues, d.triage).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
