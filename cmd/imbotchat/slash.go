package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/ai"
	"github.com/IMBotPlatform/IMBotChat/pkg/botcore"
	"github.com/IMBotPlatform/IMBotChat/pkg/chat"
	"github.com/IMBotPlatform/IMBotChat/pkg/command"
	"github.com/IMBotPlatform/IMBotChat/pkg/viewer"
)

// sessionSwitched 作为命令结果 Payload，提示界面按新的缓冲区重绘。
type sessionSwitched struct {
	SessionID string
}

// chatSurface 把斜杠命令与对话路由到同一条流水线上。
type chatSurface struct {
	svc      *chat.Service
	registry *ai.Registry
	viewer   *viewer.Viewer
	prefs    command.ConversationStore
	chain    *botcore.Chain
}

func newChatSurface(svc *chat.Service, registry *ai.Registry, v *viewer.Viewer, logger *log.Logger) *chatSurface {
	s := &chatSurface{
		svc:      svc,
		registry: registry,
		viewer:   v,
		prefs:    command.NewPreferenceStore(),
	}
	commands := command.NewManager(s.newSlashRoot, s.prefs, command.WithLogger(logger))

	// 斜杠开头的输入交给命令树，其余输入都是对话
	s.chain = botcore.NewChain(nil)
	s.chain.AddRoute("command", botcore.MatchPrefix("/"), commands)
	s.chain.AddRoute("chat", botcore.MatchAny(), svc.Handler(s.prefs, registry.DefaultLabel()))
	return s
}

// Trigger 实现 botcore.PipelineInvoker。
func (s *chatSurface) Trigger(ctx context.Context, update botcore.Update) <-chan botcore.StreamChunk {
	return s.chain.Trigger(ctx, update)
}

// selectedModel 返回该窗口当前选择的模型标签。
func (s *chatSurface) selectedModel(update botcore.Update) string {
	return chat.SelectedModel(update, s.prefs, s.registry.DefaultLabel())
}

// newSlashRoot 每次输入构建一棵新的命令树。
func (s *chatSurface) newSlashRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start a new conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s.svc.StartNew()
			cmd.Println("Started a new conversation.")
			command.FromContext(cmd.Context()).SetResponsePayload(sessionSwitched{})
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.svc.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			sessions := s.svc.Sessions()
			cmd.Printf("Resumed %s (%d messages, model %s).\n",
				sessions.CurrentSessionID(), len(sessions.CurrentBuffer()), orUnknown(sessions.CurrentModel()))
			command.FromContext(cmd.Context()).SetResponsePayload(sessionSwitched{SessionID: args[0]})
			return nil
		},
	})

	var reset bool
	modelCmd := &cobra.Command{
		Use:   "model [label]",
		Short: "Show or change the model used for the next turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := command.FromContext(cmd.Context())
			if reset {
				if err := execCtx.Remember(chat.MetaModel, ""); err != nil {
					return err
				}
				cmd.Printf("Model reset to %s.\n", s.selectedModel(execCtx.Update))
				return nil
			}
			if len(args) == 0 {
				cmd.Printf("Current model: %s\n", s.selectedModel(execCtx.Update))
				return nil
			}
			label := strings.Join(args, " ")
			if _, err := s.registry.Lookup(label); err != nil {
				return fmt.Errorf("%w (try /models)", err)
			}
			if err := execCtx.Remember(chat.MetaModel, label); err != nil {
				return err
			}
			cmd.Printf("Model set to %s.\n", label)
			return nil
		},
	}
	modelCmd.Flags().BoolVar(&reset, "reset", false, "forget the selection and use the default model")
	root.AddCommand(modelCmd)

	root.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "List selectable models",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			current := s.selectedModel(command.FromContext(cmd.Context()).Update)
			for _, label := range s.registry.Labels() {
				marker := "  "
				if label == current {
					marker = "* "
				}
				cmd.Println(marker + label)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := s.viewer.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return viewer.WriteSessions(cmd.OutOrStdout(), sessions)
		},
	})

	return root
}

func orUnknown(model string) string {
	if model == "" {
		return viewer.UnknownModel
	}
	return model
}
