package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/store"
	"github.com/deepampatel/foreman/pkg/models"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and inspect inbox messages",
	}
	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageInboxCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var teamID, from, fromType, to, toType, content string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message into a recipient's inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || from == "" || to == "" || content == "" {
				return errors.New("--team, --from, --to, and --content are required")
			}
			if fromType == "" {
				fromType = models.PartyAgent
			}
			if toType == "" {
				toType = models.PartyAgent
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				bus := message.New(st)
				msg := models.Message{
					TeamID:        teamID,
					SenderID:      from,
					SenderType:    fromType,
					RecipientID:   to,
					RecipientType: toType,
					Content:       content,
				}
				if taskID != 0 {
					msg.TaskID = &taskID
				}
				sent, err := bus.Send(ctx, msg)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent message #%d to %s\n", sent.ID, to)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&from, "from", "", "Sender ID")
	cmd.Flags().StringVar(&fromType, "from-type", "", "Sender party type (agent, user)")
	cmd.Flags().StringVar(&to, "to", "", "Recipient ID")
	cmd.Flags().StringVar(&toType, "to-type", "", "Recipient party type (agent, user)")
	cmd.Flags().StringVar(&content, "content", "", "Message content")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Related task ID")
	return cmd
}

func newMessageInboxCmd() *cobra.Command {
	var teamID, recipientID string
	var unprocessedOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List a recipient's inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if teamID == "" || recipientID == "" {
				return errors.New("--team and --recipient are required")
			}
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				bus := message.New(st)
				msgs, err := bus.Inbox(ctx, teamID, recipientID, unprocessedOnly, limit)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Inbox empty.")
					return nil
				}
				for _, m := range msgs {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "#%d from %s: %s\n", m.ID, m.SenderID, m.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Team ID")
	cmd.Flags().StringVar(&recipientID, "recipient", "", "Recipient ID")
	cmd.Flags().BoolVar(&unprocessedOnly, "unprocessed", false, "Only unprocessed messages")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	return cmd
}

func parseInt64Arg(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
