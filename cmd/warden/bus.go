package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/bus"
	"github.com/harunnryd/warden/internal/security/signing"

	"github.com/spf13/cobra"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Talk to a running message bus",
}

var busSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and send one message",
	Example: `  warden bus send --sender email_agent --recipient expense_agent \
    --protocol expense_task --payload '{"action":"review","report_id":"rpt-1"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBusClient(cmd)
		if err != nil {
			return err
		}

		msg := bus.Message{}
		msg.Sender, _ = cmd.Flags().GetString("sender")
		msg.Recipient, _ = cmd.Flags().GetString("recipient")
		msg.Protocol, _ = cmd.Flags().GetString("protocol")
		msg.TaskID, _ = cmd.Flags().GetString("task-id")
		if msg.TaskID == "" {
			msg.TaskID = uuid.NewString()
		}
		rawPayload, _ := cmd.Flags().GetString("payload")
		if rawPayload != "" {
			if err := json.Unmarshal([]byte(rawPayload), &msg.Payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
		}
		if err := msg.Validate(); err != nil {
			return err
		}

		result, err := client.Send(commandContext(cmd), msg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var busInboxCmd = &cobra.Command{
	Use:   "inbox [recipient]",
	Short: "Drain a recipient's inbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBusClient(cmd)
		if err != nil {
			return err
		}
		inbox, err := client.Inbox(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), inbox)
	},
}

var busStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBusClient(cmd)
		if err != nil {
			return err
		}
		status, err := client.Status(commandContext(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

func newBusClient(cmd *cobra.Command) (*bus.Client, error) {
	loaded, err := loadConfigForCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	signer, err := signing.NewService(loaded.Security.HMACSecret, audit.Nop())
	if err != nil {
		return nil, err
	}
	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = fmt.Sprintf("http://127.0.0.1:%d", loaded.Bus.Port)
	}
	return bus.NewClient(url, signer), nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func init() {
	busCmd.PersistentFlags().String("url", "", "bus base URL (default http://127.0.0.1:<bus.port>)")

	busSendCmd.Flags().String("sender", "", "sending agent")
	busSendCmd.Flags().String("recipient", "", "receiving agent")
	busSendCmd.Flags().String("protocol", bus.ProtocolCustom, "protocol (expense_task, retrieval_task, custom)")
	busSendCmd.Flags().String("task-id", "", "task ID (default random UUID)")
	busSendCmd.Flags().String("payload", "", "payload as a JSON object")

	busCmd.AddCommand(busSendCmd, busInboxCmd, busStatusCmd)
	rootCmd.AddCommand(busCmd)
}
