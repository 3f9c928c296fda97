// Command devirt is the driver CLI (spec.md §1, §2): it loads a
// protected PE image, discovers each reachable virtual block by
// emulating from the VMENTER RVA, follows resolved branch targets with
// a worklist, and prints the recovered virtual routine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thiviyan/VMEMU3/log"
)

var (
	flagVMEntryRVA  uint64
	flagVIPReg      string
	flagVSPReg      string
	flagLogLevel    string
	flagStall       bool
	flagCachePath   string
	flagMaxNative   int
	flagGraphOutput string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devirt <image.exe>",
		Short: "Devirtualize a VMProtect-style protected routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := log.InitLogger(flagLogLevel); err != nil {
				return err
			}
			return run(runOptions{
				ImagePath:   args[0],
				VMEntryRVA:  flagVMEntryRVA,
				VIPReg:      flagVIPReg,
				VSPReg:      flagVSPReg,
				Stall:       flagStall,
				CachePath:   flagCachePath,
				MaxNative:   flagMaxNative,
				GraphOutput: flagGraphOutput,
			})
		},
	}

	cmd.Flags().Uint64Var(&flagVMEntryRVA, "vmenter-rva", 0, "RVA of the VMENTER stub")
	cmd.Flags().StringVar(&flagVIPReg, "vip-reg", "RSI", "native register assigned to VIP")
	cmd.Flags().StringVar(&flagVSPReg, "vsp-reg", "RDI", "native register assigned to VSP")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error, crit)")
	cmd.Flags().BoolVar(&flagStall, "stall-on-unknown", false, "stall and dump the trace on an unknown v-instruction (development mode)")
	cmd.Flags().StringVar(&flagCachePath, "cache", "", "bbolt classification cache path (disabled if empty)")
	cmd.Flags().IntVar(&flagMaxNative, "max-native-instrs", 20000, "per-block native instruction cap, 0 for unbounded")
	cmd.Flags().StringVar(&flagGraphOutput, "graph", "", "write the recovered routine's control-flow graph as DOT to this path")

	cmd.MarkFlagRequired("vmenter-rva")
	return cmd
}

// runOptions collects the driver's CLI-derived configuration, kept
// separate from config.Options so command wiring doesn't leak into the
// core packages.
type runOptions struct {
	ImagePath   string
	VMEntryRVA  uint64
	VIPReg      string
	VSPReg      string
	Stall       bool
	CachePath   string
	MaxNative   int
	GraphOutput string
}
