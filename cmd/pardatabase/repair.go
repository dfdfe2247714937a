package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pardatabase/pardatabase/internal/verify"
)

var repairFlags sharedFlags

var repairCommand = &cobra.Command{
	Use:   "repair <path>",
	Short: "Repair a named file from its parity vault artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepair,
}

func init() {
	registerSharedFlags(repairCommand.Flags(), &repairFlags)
}

func runRepair(command *cobra.Command, arguments []string) error {
	ctx, err := openVaultContext(command, &repairFlags, "", true)
	if err != nil {
		return wrapOperational(err)
	}
	defer ctx.Close()

	repairer := verify.NewRepairer(ctx.root, ctx.hasher, ctx.store, ctx.vault, ctx.par2, ctx.logger)
	if err := repairer.Repair(arguments[0]); err != nil {
		fmt.Fprintln(os.Stderr, "repair failed:", err)
		ctx.store.Save(0, nowSeconds())
		ctx.Close()
		os.Exit(exitRepairFailure)
	}

	return wrapOperational(ctx.store.Save(0, nowSeconds()))
}
