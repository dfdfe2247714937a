package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pardatabase/pardatabase/internal/verify"
)

var verifyFlags sharedFlags

var verifyCommand = &cobra.Command{
	Use:   "verify [target]",
	Short: "Re-hash every indexed file and cross-check the parity vault",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func init() {
	registerSharedFlags(verifyCommand.Flags(), &verifyFlags)
}

func runVerify(command *cobra.Command, arguments []string) error {
	target := ""
	if len(arguments) > 0 {
		target = arguments[0]
	}
	ctx, err := openVaultContext(command, &verifyFlags, target, false)
	if err != nil {
		return wrapOperational(err)
	}
	defer ctx.Close()

	verifier := verify.New(ctx.root, ctx.hasher, ctx.store, ctx.vault, ctx.logger)
	result, err := verifier.Verify()
	if err != nil {
		return wrapOperational(err)
	}

	for _, path := range result.Corrupted {
		fmt.Printf("corrupted: %s\n", path)
	}
	for _, path := range result.Stale {
		fmt.Printf("updated without rescan: %s\n", path)
	}
	for _, vr := range result.VaultResults {
		if vr.Bad {
			fmt.Printf("vault artifact mismatch for digest: %s\n", vr.FileDigest)
		}
		if vr.Missing {
			fmt.Printf("vault artifact missing for digest: %s\n", vr.FileDigest)
		}
	}
	fmt.Printf("skipped (no digest): %d\n", result.SkippedNoDigest)

	if err := ctx.store.Save(0, nowSeconds()); err != nil {
		ctx.logger.Warn(err)
	}

	if len(result.Corrupted) > 0 {
		ctx.Close()
		os.Exit(exitVerifyFailures)
	}
	return nil
}
