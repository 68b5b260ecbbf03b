package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/pkg/agent"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/presenter"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive documentation chat session. Questions are routed to
matching skills and answered with live documentation lookups where available.

Slash commands inside the session:
  /help      show available commands
  /skills    list discovered skills
  /threads   list conversation threads
  /new       start a new thread
  /switch    switch to another thread
  /history   show current thread history
  /clear     clear current thread history
  /exit      leave the session`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		runChat(ctx)
	},
}

func runChat(ctx context.Context) {
	p := presenter.New()

	session, err := newSession(ctx)
	if err != nil {
		p.Error(err, "failed to start session")
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close session")
		}
	}()

	p.Section("DocPilot Chat")
	p.Info(fmt.Sprintf("%d skills available. Type /help for commands, /exit to quit.", session.Registry().Len()))
	p.Separator()

	threadID, err := session.CreateThread(ctx, "")
	if err != nil {
		p.Error(err, "failed to create thread")
		os.Exit(1)
	}
	p.Info(fmt.Sprintf("Thread: %s", threadID))

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handleSlashCommand(ctx, p, session, input) {
				return
			}
			continue
		}

		if err := streamTurn(ctx, session, input); err != nil {
			p.Error(err, "failed to process message")
		}
		fmt.Println()
	}
}

// streamTurn runs one streaming turn, printing text as it arrives.
func streamTurn(ctx context.Context, session *agent.Session, input string) error {
	events, err := session.ChatStream(ctx, "", input)
	if err != nil {
		return err
	}
	for event := range events {
		switch event.Type {
		case agent.EventThinking:
			logger.G(ctx).Debug(event.Message)
		case agent.EventText:
			fmt.Print(event.Content)
		case agent.EventError:
			fmt.Println()
			return fmt.Errorf("%s", event.Message)
		}
	}
	fmt.Println()
	return nil
}

// handleSlashCommand dispatches a session command. It returns true when the
// session should end.
func handleSlashCommand(ctx context.Context, p *presenter.Presenter, session *agent.Session, input string) bool {
	fields := strings.Fields(input)
	command, args := fields[0], fields[1:]

	switch command {
	case "/exit", "/quit":
		p.Success("Goodbye!")
		return true

	case "/help":
		p.Section("Commands")
		p.Info("/skills    list discovered skills")
		p.Info("/threads   list conversation threads")
		p.Info("/new       start a new thread")
		p.Info("/switch    switch to another thread: /switch <thread_id>")
		p.Info("/history   show current thread history")
		p.Info("/clear     clear current thread history")
		p.Info("/exit      leave the session")

	case "/skills":
		catalog := session.Registry().List()
		if len(catalog) == 0 {
			p.Warning("No skills discovered")
			break
		}
		active := session.ActiveSkills()
		p.Section(fmt.Sprintf("Skills (%d available, %d active)", len(catalog), len(active)))
		for _, skill := range catalog {
			p.Info(fmt.Sprintf("%s - %s", skill.Name, skill.Description))
		}

	case "/threads":
		p.Section("Threads")
		for _, info := range session.Threads() {
			marker := " "
			if info.Current {
				marker = "*"
			}
			p.Info(fmt.Sprintf("%s %s (%d turns)", marker, info.ID, info.TurnCount))
		}

	case "/new":
		id, err := session.CreateThread(ctx, "")
		if err != nil {
			p.Error(err, "failed to create thread")
			break
		}
		p.Success(fmt.Sprintf("Switched to new thread %s", id))

	case "/switch":
		if len(args) != 1 {
			p.Warning("Usage: /switch <thread_id>")
			break
		}
		if err := session.SwitchThread(ctx, args[0]); err != nil {
			p.Error(err, "failed to switch thread")
			break
		}
		p.Success(fmt.Sprintf("Switched to thread %s", args[0]))

	case "/history":
		turns := session.History("")
		if len(turns) == 0 {
			p.Info("No history in this thread yet")
			break
		}
		p.Section("History")
		for _, turn := range turns {
			p.Info(fmt.Sprintf("[%s] you: %s", turn.Timestamp.Format("15:04:05"), turn.User))
			p.Info(fmt.Sprintf("[%s] docpilot: %s", turn.Timestamp.Format("15:04:05"), turn.Assistant))
		}

	case "/clear":
		session.ClearHistory(ctx)
		p.Success("Thread history cleared")

	default:
		p.Warning(fmt.Sprintf("Unknown command %s, type /help for commands", command))
	}
	return false
}
