package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crm-automation/internal/chatbot"
	"crm-automation/internal/queue"
)

var (
	execChatbot string
	execStatus  string
	execLimit   int
	termStatus  string
	termReason  string
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect and stop chatbot executions",
}

var listExecutionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  listExecutions,
}

var terminateExecutionCmd = &cobra.Command{
	Use:   "terminate <execution-id>",
	Short: "Force an execution to completed or error",
	Args:  cobra.ExactArgs(1),
	RunE:  terminateExecution,
}

func init() {
	listExecutionsCmd.Flags().StringVar(&execChatbot, "chatbot", "", "only executions of this chatbot")
	listExecutionsCmd.Flags().StringVar(&execStatus, "status", "", "only executions in this status")
	listExecutionsCmd.Flags().IntVar(&execLimit, "limit", 50, "maximum rows")

	terminateExecutionCmd.Flags().StringVar(&termStatus, "status", string(chatbot.StatusCompleted), "final status: completed or error")
	terminateExecutionCmd.Flags().StringVar(&termReason, "reason", "terminated by operator", "reason stored on the execution")

	executionsCmd.AddCommand(listExecutionsCmd, terminateExecutionCmd)
	rootCmd.AddCommand(executionsCmd)
}

func listExecutions(cmd *cobra.Command, args []string) error {
	_, db, _, err := env()
	if err != nil {
		return err
	}
	list, err := chatbot.NewLedger(db).List(context.Background(), chatbot.ListFilter{
		TenantID:  tenant,
		ChatbotID: execChatbot,
		Status:    chatbot.Status(execStatus),
		Limit:     execLimit,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHATBOT\tCONVERSATION\tNODE\tSTATUS\tUPDATED")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ChatbotID, e.ConversationID, e.CurrentNodeID, e.Status, e.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func terminateExecution(cmd *cobra.Command, args []string) error {
	cfg, db, zl, err := env()
	if err != nil {
		return err
	}
	ctx := context.Background()

	// Share the server's locks so a running walk is not overwritten.
	opts := []chatbot.Option{}
	if cfg.RedisURL != "" {
		client, err := queue.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, chatbot.WithLocker(chatbot.NewRedisLocker(client, cfg.LockTTL)))
	}

	engine := chatbot.NewEngine(db, nil, zl, opts...)
	if tenant != "" {
		current, err := engine.Ledger().Get(ctx, args[0])
		if err != nil {
			return err
		}
		if current.TenantID != tenant {
			return chatbot.ErrNotFound
		}
	}
	exec, err := engine.Terminate(ctx, args[0], chatbot.Status(termStatus), termReason)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", exec.ID, exec.Status)
	return nil
}
