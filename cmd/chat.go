package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	configx "github.com/neohoods/portal-assistant/pkg/config"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Starts an interactive conversation on stdin/stdout against the in-memory
portal. Type "/pay <reservationId>" to simulate a payment event and "/quit" to
leave.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed, _ := cmd.Flags().GetString("seed")
		conversation, _ := cmd.Flags().GetString("conversation")
		sender, _ := cmd.Flags().GetString("sender")
		public, _ := cmd.Flags().GetBool("public")
		locale, _ := cmd.Flags().GetString("locale")

		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.InitWriter(os.Stderr, *logCfg)

		a, err := buildApp(cmd.Context(), seed)
		if err != nil {
			return err
		}
		defer a.Close()

		auth := contractx.AuthContext{
			ConversationID:  conversation,
			SenderID:        sender,
			Private:         !public,
			PreferredLocale: promptx.NormalizeLocale(locale),
		}
		return runChat(cmd.Context(), a, auth, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, a *app, auth contractx.AuthContext, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/pay "):
			reservationID := strings.TrimSpace(strings.TrimPrefix(line, "/pay "))
			if _, err := a.portal.MarkPaid(ctx, reservationID); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			} else if err := a.orchestrator.ConfirmPayment(ctx, auth.ConversationID, reservationID); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			} else {
				fmt.Fprintln(out, "(payment recorded)")
			}
		default:
			reply, err := a.orchestrator.HandleMessage(ctx, auth, line)
			if err != nil {
				fmt.Fprintln(out, chatError(auth, err))
				break
			}
			fmt.Fprintf(out, "[%s] %s\n", reply.Workflow, reply.Reply)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func chatError(auth contractx.AuthContext, err error) string {
	if errors.Is(err, contractx.ErrPrivacyRequired) {
		return "! " + promptx.Text(auth.PreferredLocale, promptx.MsgPrivateRequired)
	}
	return "! " + err.Error()
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("conversation", "cli", "Conversation id")
	chatCmd.Flags().String("sender", "@alice:neohoods.example", "Sender id of the resident")
	chatCmd.Flags().Bool("public", false, "Talk as in a public room")
	chatCmd.Flags().String("locale", "", "Preferred locale (fr or en)")
}
