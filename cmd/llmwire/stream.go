package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream [prompt...]",
	Short: "Send a prompt and stream the reply",
	Long:  "Send a single user message and print the reply as it arrives. With no arguments the prompt is read from stdin.",
	RunE:  runStream,
}

func init() {
	streamCmd.Flags().StringP("instructions", "i", "", "System instructions")
	streamCmd.Flags().Bool("json", false, "Print every event as a JSON line instead of text")
	streamCmd.Flags().Bool("reasoning", false, "Print reasoning deltas to stderr")
	streamCmd.Flags().String("conversation-id", "", "Conversation id sent as the cache key (default: random)")

	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	instructions, _ := cmd.Flags().GetString("instructions")
	asJSON, _ := cmd.Flags().GetBool("json")
	showReasoning, _ := cmd.Flags().GetBool("reasoning")
	conversationID, _ := cmd.Flags().GetString("conversation-id")

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return fmt.Errorf("empty prompt")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	opts := []unifiedllm.ClientOption{
		unifiedllm.WithLogger(logger),
		unifiedllm.WithConversationID(conversationID),
	}
	client, err := cfg.NewClient(credentialOptions(logger), opts...)
	if err != nil {
		return err
	}
	logger.Debug("streaming", "model", client.Model(), "wire_api", client.EffectiveWireAPI(), "conversation_id", conversationID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stream, err := client.Stream(ctx, unifiedllm.Prompt{
		Instructions: instructions,
		Input:        []unifiedllm.ResponseItem{unifiedllm.UserMessage(text)},
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSONEvents(ctx, out, stream)
	}
	return printText(ctx, out, cmd.ErrOrStderr(), stream, showReasoning)
}

func printText(ctx context.Context, out, errOut io.Writer, stream *unifiedllm.ResponseStream, showReasoning bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case unifiedllm.EventOutputTextDelta:
				fmt.Fprint(out, ev.Delta)
			case unifiedllm.EventReasoningContentDelta, unifiedllm.EventReasoningSummaryDelta:
				if showReasoning {
					fmt.Fprint(errOut, ev.Delta)
				}
			case unifiedllm.EventOutputItemDone:
				if ev.Item != nil && ev.Item.Type == unifiedllm.ItemFunctionCall {
					fmt.Fprintf(errOut, "\n[tool call] %s\n", ev.Item)
				}
			case unifiedllm.EventCompleted:
				fmt.Fprintln(out)
				if ev.TokenUsage != nil {
					fmt.Fprintf(errOut, "tokens: %d in (%d cached), %d out, %d total\n",
						ev.TokenUsage.InputTokens, ev.TokenUsage.CachedInputTokens,
						ev.TokenUsage.OutputTokens, ev.TokenUsage.TotalTokens)
				}
			case unifiedllm.EventError:
				fmt.Fprintln(out)
				return ev.Err
			}
		}
	}
}

func printJSONEvents(ctx context.Context, out io.Writer, stream *unifiedllm.ResponseStream) error {
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if ev.Type == unifiedllm.EventError {
				return ev.Err
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
