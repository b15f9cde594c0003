package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/viewer"
)

// newSessionsCmd 列出已保存的会话（最新在前）。
func newSessionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List saved sessions, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.viewer.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			return viewer.WriteSessions(cmd.OutOrStdout(), sessions)
		},
	}
}

// newShowCmd 打印单个会话的完整记录。
func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.viewer.Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return viewer.WriteTranscript(cmd.OutOrStdout(), t)
		},
	}
}

// newModelsCmd 列出可选模型。
func newModelsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, label := range a.registry.Labels() {
				m, _ := a.registry.Lookup(label)
				marker := " "
				if label == a.modelLabel(flags) {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %-10s %s\n", marker, label, m.Provider, m.ModelName)
			}
			return nil
		},
	}
}
