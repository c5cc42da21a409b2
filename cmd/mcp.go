package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	"github.com/neohoods/portal-assistant/agent/tool"
	configx "github.com/neohoods/portal-assistant/pkg/config"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the portal actions as an MCP server over stdio",
	Long: `Serves list_spaces, get_space, check_space_availability,
create_reservation and generate_payment_link to MCP clients. Every call runs
as the resident given by --sender.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed, _ := cmd.Flags().GetString("seed")
		sender, _ := cmd.Flags().GetString("sender")

		// stdout carries JSON-RPC.
		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.InitWriter(os.Stderr, *logCfg)

		portal, err := loadPortal(seed)
		if err != nil {
			return err
		}
		exec, err := tool.NewExecutor(portal)
		if err != nil {
			return err
		}
		srv, err := tool.NewMCPServer(exec, contractx.AuthContext{
			ConversationID: "mcp",
			SenderID:       sender,
			Private:        true,
		}, Version)
		if err != nil {
			return err
		}

		log.Info().Str("sender_id", sender).Msg("serving MCP over stdio")
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("sender", "@alice:neohoods.example", "Sender id the actions run as")
}
