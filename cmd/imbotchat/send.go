package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
	"github.com/IMBotPlatform/IMBotChat/pkg/chat"
)

// newSendCmd 发送单条输入并流式打印输出。
// 输入与交互界面走同一条流水线，因此 "/sessions" 之类的斜杠命令同样可用。
func newSendCmd(flags *globalFlags) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "send <prompt>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := chat.NewService(a.store, a.registry, chat.WithLogger(a.logger))
			if sessionID != "" {
				if err := svc.Resume(ctx, sessionID); err != nil {
					return err
				}
			}
			surface := newChatSurface(svc, a.registry, a.viewer, a.logger)

			update := botcore.Update{
				ChatID:   "terminal",
				SenderID: currentUser(),
				Text:     strings.Join(args, " "),
			}
			if flags.model != "" {
				update.Metadata = map[string]string{chat.MetaModel: flags.model}
			}

			out := cmd.OutOrStdout()
			var final botcore.StreamChunk
			for chunk := range surface.Trigger(ctx, update) {
				fmt.Fprint(out, chunk.Content)
				if chunk.IsFinal {
					final = chunk
				}
			}
			fmt.Fprintln(out)

			if result, ok := final.Payload.(*chat.TurnResult); ok && result.SessionID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", result.SessionID)
			}
			if errors.Is(final.Err, chat.ErrReplyNotSaved) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: the reply above was not saved")
			}
			return final.Err
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	return cmd
}
