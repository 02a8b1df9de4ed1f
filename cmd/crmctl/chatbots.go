package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"crm-automation/internal/chatbot"
)

var dryRun bool

var importChatbotCmd = &cobra.Command{
	Use:   "import-chatbot <file.yaml>",
	Short: "Create a chatbot from a YAML flow file",
	Args:  cobra.ExactArgs(1),
	RunE:  importChatbot,
}

var exportChatbotCmd = &cobra.Command{
	Use:   "export-chatbot <chatbot-id>",
	Short: "Print a stored chatbot as a YAML flow file",
	Args:  cobra.ExactArgs(1),
	RunE:  exportChatbot,
}

var listChatbotsCmd = &cobra.Command{
	Use:   "chatbots",
	Short: "List the tenant's chatbots",
	Args:  cobra.NoArgs,
	RunE:  listChatbots,
}

func init() {
	importChatbotCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	rootCmd.AddCommand(importChatbotCmd, exportChatbotCmd, listChatbotsCmd)
}

func importChatbot(cmd *cobra.Command, args []string) error {
	def, err := chatbot.LoadDefinitionFile(args[0])
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("%s: %d nodes, %d edges, valid\n", def.Name, len(def.Nodes), len(def.Edges))
		return nil
	}
	if err := requireTenant(); err != nil {
		return err
	}

	_, db, zl, err := env()
	if err != nil {
		return err
	}
	bot, err := def.Model(tenant)
	if err != nil {
		return err
	}
	if err := chatbot.NewStore(db).Create(context.Background(), bot); err != nil {
		return fmt.Errorf("creating chatbot: %w", err)
	}
	zl.Info().Str("chatbot_id", bot.ID).Str("name", bot.Name).Bool("active", bot.IsActive).Msg("chatbot imported")
	fmt.Println(bot.ID)
	return nil
}

func exportChatbot(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	_, db, _, err := env()
	if err != nil {
		return err
	}
	bot, err := chatbot.NewStore(db).Get(context.Background(), tenant, args[0])
	if err != nil {
		return err
	}
	def, err := chatbot.DefinitionFromModel(bot)
	if err != nil {
		return err
	}
	out, err := def.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func listChatbots(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	_, db, _, err := env()
	if err != nil {
		return err
	}
	bots, err := chatbot.NewStore(db).List(context.Background(), tenant)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(bots)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tCHANNEL\tACTIVE")
	for _, b := range bots {
		channel := b.ChannelID
		if channel == "" {
			channel = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", b.ID, b.Name, b.TriggerType, channel, b.IsActive)
	}
	return w.Flush()
}
