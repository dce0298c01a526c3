package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"oneshotbft/store"
)

// ShowDecisionCmd 离线翻归档库，打出本实例的最终决议
var ShowDecisionCmd = &cobra.Command{
	Use:     "show-decision",
	Aliases: []string{"show_decision"},
	Short:   "Print the archived decision of this instance, if any",
	PreRun:  deprecateSnakeCase,
	RunE:    showDecision,
}

func showDecision(cmd *cobra.Command, args []string) error {
	archive, err := store.OpenArchive("decide_archive", config.DBDir())
	if err != nil {
		return err
	}
	defer archive.Close()

	decision, err := archive.Decision()
	if err != nil {
		return err
	}
	if decision == nil {
		fmt.Println("no decision archived yet")
		return nil
	}

	fmt.Printf("%X\n", decision)

	msgs, err := archive.Messages()
	if err != nil {
		return err
	}
	logger.Info("archived message tree", "size", len(msgs))
	return nil
}
