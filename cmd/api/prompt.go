package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/climate-assistant/backend/internal/app"
	"github.com/zhouzirui/climate-assistant/backend/internal/config"
	"github.com/zhouzirui/climate-assistant/backend/internal/model/experiment"
	"github.com/zhouzirui/climate-assistant/backend/internal/service/ai"
)

func newPromptCmd() *cobra.Command {
	var (
		conditionID string
		explicit    experiment.Config
		displayName string
	)

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system prompt of an experiment condition",
		Example: `  climate-assistant prompt --condition c425871
  climate-assistant prompt --social 43 --source 59 --tone 72 --name Sam`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			conditions, err := app.LoadConditions(appCfg.Study)
			if err != nil {
				return err
			}

			cfg, err := experiment.Resolve(conditions, conditionID, explicit)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), ai.BuildPrompt(cfg, displayName))
			return nil
		},
	}

	cmd.Flags().StringVar(&conditionID, "condition", "", "condition id (overrides the selector flags)")
	cmd.Flags().StringVar(&explicit.SocialCues, "social", experiment.SocialCuesSentinel, "social cues selector")
	cmd.Flags().StringVar(&explicit.Source, "source", experiment.SourceSentinel, "source selector")
	cmd.Flags().StringVar(&explicit.Tone, "tone", experiment.ToneSentinel, "tone selector")
	cmd.Flags().StringVar(&displayName, "name", "", "participant display name")
	return cmd
}
