// Package main provides the slate CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/slate-ml/slate/buffer"
	"github.com/slate-ml/slate/device/cpu"
	"github.com/slate-ml/slate/device/gpu"
)

const version = "v0.1.0-dev"

func main() {
	klog.InitFlags(nil)

	root := &cobra.Command{
		Use:           "slate",
		Short:         "Slate compute-buffer runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(versionCmd(), devicesCmd(), benchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "slate:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("slate %s\n", version)
		},
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available compute devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			host := cpu.New()
			fmt.Printf("  %s\n", host.Name())

			if !gpu.IsAvailable() {
				fmt.Println("  GPU: not available")
				return nil
			}
			dev, err := gpu.New()
			if err != nil {
				fmt.Printf("  GPU: %v\n", err)
				return nil
			}
			defer dev.Release()
			fmt.Printf("  %s (unified memory: %v)\n", dev.Name(), dev.UnifiedMem())
			return nil
		},
	}
}

func benchCmd() *cobra.Command {
	var (
		elems  int
		epochs int
		useGPU bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark cached allocation across epochs",
		Long: "Runs the same chain of element-wise operations once per epoch,\n" +
			"resetting the identity counter between epochs so every epoch after\n" +
			"the first reuses the allocations of the first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useGPU {
				if !gpu.IsAvailable() {
					return fmt.Errorf("gpu not available")
				}
				dev, err := gpu.New()
				if err != nil {
					return err
				}
				defer dev.Release()
				return runBench(dev, elems, epochs, func() (*buffer.Buffer[float32], error) {
					return benchEpochGPU(dev, elems)
				})
			}
			dev := cpu.New()
			return runBench(dev, elems, epochs, func() (*buffer.Buffer[float32], error) {
				return benchEpochCPU(dev, elems)
			})
		},
	}
	cmd.Flags().IntVarP(&elems, "elems", "n", 1<<20, "elements per buffer")
	cmd.Flags().IntVarP(&epochs, "epochs", "e", 100, "benchmark epochs")
	cmd.Flags().BoolVar(&useGPU, "gpu", false, "run on the GPU device")
	return cmd
}

// benchDevice is what the benchmark needs from either device flavor.
type benchDevice interface {
	Name() string
	ResetIdents()
	String() string
}

func runBench(dev benchDevice, elems, epochs int, epoch func() (*buffer.Buffer[float32], error)) error {
	fmt.Printf("device: %s, %s elements, %d epochs\n",
		dev.Name(), humanize.Comma(int64(elems)), epochs)

	bar := progressbar.Default(int64(epochs))
	start := time.Now()
	for i := 0; i < epochs; i++ {
		dev.ResetIdents()
		out, err := epoch()
		if err != nil {
			return err
		}
		out.Free()
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)

	fmt.Printf("\n%s\n", dev)
	fmt.Printf("total %v, %v per epoch\n", elapsed, elapsed/time.Duration(epochs))
	return nil
}

func benchEpochCPU(dev *cpu.Device, elems int) (*buffer.Buffer[float32], error) {
	x, err := buffer.Cached[float32](dev, elems)
	if err != nil {
		return nil, err
	}
	defer x.Free()
	y, err := cpu.Add(dev, x, x)
	if err != nil {
		return nil, err
	}
	defer y.Free()
	z, err := cpu.Mul(dev, y, x)
	if err != nil {
		return nil, err
	}
	defer z.Free()
	return cpu.Relu(dev, z)
}

func benchEpochGPU(dev *gpu.Device, elems int) (*buffer.Buffer[float32], error) {
	x, err := buffer.Cached[float32](dev, elems)
	if err != nil {
		return nil, err
	}
	defer x.Free()
	y, err := gpu.Add(dev, x, x)
	if err != nil {
		return nil, err
	}
	defer y.Free()
	z, err := gpu.Mul(dev, y, x)
	if err != nil {
		return nil, err
	}
	defer z.Free()
	return gpu.Relu(dev, z)
}
