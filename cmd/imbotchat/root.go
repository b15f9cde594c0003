package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd 构建 CLI 命令树；不带子命令时进入交互式聊天。
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "imbotchat",
		Short:         "Chat with several LLM providers and keep every conversation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root)

	chatCmd := newChatCmd(flags)
	root.RunE = chatCmd.RunE
	root.AddCommand(
		chatCmd,
		newSendCmd(flags),
		newSessionsCmd(flags),
		newShowCmd(flags),
		newModelsCmd(flags),
		newMigrateCmd(flags),
	)
	return root
}
