package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pardatabase/pardatabase/internal/clean"
)

var cleanFlags sharedFlags

var cleanCommand = &cobra.Command{
	Use:   "clean [target]",
	Short: "Drop index records for missing files and remove orphaned vault entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	registerSharedFlags(cleanCommand.Flags(), &cleanFlags)
}

func runClean(command *cobra.Command, arguments []string) error {
	target := ""
	if len(arguments) > 0 {
		target = arguments[0]
	}
	ctx, err := openVaultContext(command, &cleanFlags, target, false)
	if err != nil {
		return wrapOperational(err)
	}
	defer ctx.Close()

	cleaner := clean.New(ctx.root, ctx.store, ctx.vault)
	cleaner.DryRun = cleanFlags.dryRun
	result := cleaner.Clean()

	fmt.Printf("records dropped: %d, vault entries dropped: %d, artifacts removed: %d\n",
		result.RecordsDropped, result.VaultEntriesDropped, result.ArtifactsRemoved)

	if cleanFlags.dryRun {
		return nil
	}
	return wrapOperational(ctx.store.Save(0, nowSeconds()))
}
