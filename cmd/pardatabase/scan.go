package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pardatabase/pardatabase/internal/format"
	"github.com/pardatabase/pardatabase/internal/pipeline"
	"github.com/pardatabase/pardatabase/internal/plan"
)

var scanFlags sharedFlags

var scanCommand = &cobra.Command{
	Use:   "scan [target]",
	Short: "Scan the tree, hash new or changed files, and parity-protect eligible ones",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	registerSharedFlags(scanCommand.Flags(), &scanFlags)
}

func runScan(command *cobra.Command, arguments []string) error {
	target := ""
	if len(arguments) > 0 {
		target = arguments[0]
	}
	ctx, err := openVaultContext(command, &scanFlags, target, true)
	if err != nil {
		return wrapOperational(err)
	}
	defer ctx.Close()

	start := time.Now()
	scanWalker, parityWalker := scanFlags.walkers(ctx.root, ".pardatabase", ctx.logger)
	scanner := plan.New(ctx.root, ctx.store)
	work, err := scanner.Plan(scanWalker, parityWalker)
	if err != nil {
		return wrapOperational(errors.Wrap(err, "unable to build scan plan"))
	}

	var parityBytes int64
	for _, rec := range work.NeedsParity {
		parityBytes += rec.Size
	}
	fmt.Printf("needs hash: %d, needs parity: %d (%s)\n",
		len(work.NeedsHash), len(work.NeedsParity), format.Size(parityBytes))

	if scanFlags.dryRun {
		return nil
	}

	hashPipeline := pipeline.NewHashPipeline(ctx.root, ctx.hasher, ctx.store, ctx.logger)
	hashPipeline.Delay = scanFlags.delay
	hashErrs := hashPipeline.Run(work.NeedsHash)

	parityPipeline := pipeline.NewParityPipeline(ctx.root, ctx.hasher, ctx.vault, ctx.store, ctx.par2, scanFlags.options, ctx.logger)
	parityPipeline.Sequential = scanFlags.sequential
	parityPipeline.SingleCharFix = scanFlags.singleCharFix
	parityErrs := parityPipeline.Run(work.NeedsParity)

	// No error is allowed to skip the final save.
	if err := ctx.store.Save(0, nowSeconds()); err != nil {
		return wrapOperational(err)
	}

	if failed := len(hashErrs) + len(parityErrs); failed > 0 {
		return wrapOperational(fmt.Errorf("%d of %d files failed during scan",
			failed, len(work.NeedsHash)+len(work.NeedsParity)))
	}
	fmt.Printf("completed in %s\n", format.Elapsed(start))
	return nil
}
