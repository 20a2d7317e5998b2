package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/adze-dev/adze/internal/observability"
	"github.com/adze-dev/adze/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run the agent on a task",
		Long:  "Run drives the agent until it completes the task, answers in plan\nmode, exhausts its round budget, or is interrupted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := ""
			if len(args) > 0 {
				task = args[0]
			}
			if strings.TrimSpace(task) == "" && conversationID == "" {
				return fmt.Errorf("a task is required (or --conversation to resume)")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, span := rt.tracer.StartSpan(ctx, "agent.run",
				attribute.String("conversation.id", conversationID))
			events, err := rt.loop.Run(ctx, conversationID, task)
			if err != nil {
				observability.EndSpan(span, err)
				return err
			}
			renderErr := renderEvents(cmd.OutOrStdout(), events)
			observability.EndSpan(span, renderErr)
			return renderErr
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to resume")
	return cmd
}

// renderEvents streams a run to the terminal. Assistant text prints as it
// arrives; everything else gets a one-line marker.
func renderEvents(w io.Writer, events <-chan models.Event) error {
	var runErr error
	inText := false

	endText := func() {
		if inText {
			fmt.Fprintln(w)
			inText = false
		}
	}

	for ev := range events {
		switch ev.Kind {
		case models.EventText:
			fmt.Fprint(w, ev.Text)
			inText = true
		case models.EventThinking:
			// reasoning stays off the transcript
		case models.EventConversationID:
			fmt.Fprintf(w, "conversation: %s\n", ev.Text)
		case models.EventToolCall:
			endText()
			fmt.Fprintf(w, "-> %s\n", ev.Call.Name())
		case models.EventToolResult:
			endText()
			status := "ok"
			if ev.Result.IsError {
				status = "error"
			}
			fmt.Fprintf(w, "<- %s (%s, %s)\n", ev.Result.Name, status, ev.Result.Duration.Round(time.Millisecond))
		case models.EventRetry:
			endText()
			fmt.Fprintf(w, "retrying: %s\n", ev.Text)
		case models.EventWindowChange:
			endText()
			if ev.Window != nil {
				fmt.Fprintf(w, "context pruned: %d -> %d messages\n", ev.Window.FromMessages, ev.Window.ToMessages)
			}
		case models.EventCompletion:
			endText()
			fmt.Fprintf(w, "\n%s\n", ev.Text)
		case models.EventPlanResponse:
			endText()
			fmt.Fprintf(w, "\n[plan] %s\n", ev.Text)
		case models.EventError:
			endText()
			fmt.Fprintf(w, "error: %s\n", ev.Text)
			runErr = fmt.Errorf("run failed: %s", ev.Text)
		case models.EventTokenUsage:
			if ev.Usage != nil && ev.Usage.Total() > 0 {
				fmt.Fprintf(w, "tokens: %d in / %d out\n", ev.Usage.InputTokens, ev.Usage.OutputTokens)
			}
		}
	}
	endText()
	return runErr
}
