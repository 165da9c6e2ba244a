package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mooncakeSG/neighbourbot/internal/bot"
	"github.com/mooncakeSG/neighbourbot/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	chatSession  string
	chatShowData bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with NeighbourBot in the terminal",
	Long: `Starts a local session and reads messages from stdin.

Type /reset to start over, /quit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume a stored session id")
	chatCmd.Flags().BoolVar(&chatShowData, "data", false, "print the API data behind each answer")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := sessionDefaults(ctx, store)
	if err != nil {
		return err
	}
	opts.SessionID = chatSession

	session, err := bot.NewSession(ctx, opts)
	if err != nil {
		return err
	}
	defer session.Close()

	session.Subscribe(func(e bot.Event) {
		if e.Type != bot.EventMessage {
			logger.Debug("📣 Event", zap.String("type", string(e.Type)), zap.String("intent", e.Intent))
		}
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s\n\n", session.ID())
	for _, turn := range session.History(0) {
		printTurn(out, turn)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			printTurn(out, session.History(1)[0])
			continue
		}

		replies, err := session.HandleMessage(ctx, line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		for _, turn := range replies {
			printTurn(out, turn)
		}
	}
	return scanner.Err()
}

func printTurn(out io.Writer, turn models.ConversationTurn) {
	if turn.Role == models.RoleUser {
		fmt.Fprintf(out, "you: %s\n", turn.Message)
		return
	}

	fmt.Fprintf(out, "🤖 %s\n", turn.Message)
	if turn.Metadata == nil {
		fmt.Fprintln(out)
		return
	}
	if chatShowData && turn.Metadata.Data != nil {
		if data, err := json.MarshalIndent(turn.Metadata.Data, "   ", "  "); err == nil {
			fmt.Fprintf(out, "   %s\n", data)
		}
	}
	for _, s := range turn.Metadata.Suggestions {
		fmt.Fprintf(out, "   • %s\n", s)
	}
	fmt.Fprintln(out)
}
