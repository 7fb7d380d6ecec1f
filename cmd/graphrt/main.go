// Package main provides the graph runtime CLI.
package main

import (
	"fmt"
	"os"

	"github.com/born-ml/graphrt/device"
	"github.com/born-ml/graphrt/device/host"
	"github.com/born-ml/graphrt/device/webgpu"
	"github.com/born-ml/graphrt/internal/config"
	"github.com/born-ml/graphrt/operators"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("graphrt %s\n", version)
	case "ops":
		for _, op := range operators.NewRegistry().SupportedOps() {
			fmt.Println(op)
		}
	case "devices":
		dev := host.New()
		describe(dev)
		_ = dev.Close()
		gpu, err := webgpu.New()
		if err != nil {
			fmt.Printf("webgpu: %v\n", err)
			return
		}
		describe(gpu)
		_ = gpu.Close()
	case "check-config":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: graphrt check-config FILE")
			os.Exit(2)
		}
		cfg, err := config.Load(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", cfg)
	default:
		usage()
		os.Exit(2)
	}
}

func describe(dev device.Device) {
	t := dev.Target()
	fmt.Printf("%s: target %s, vector width %d", dev.Name(), t.Name, t.VectorWidth)
	if t.MaxWorkgroupInvocations > 0 {
		fmt.Printf(", %d invocations per workgroup", t.MaxWorkgroupInvocations)
	}
	fmt.Println()
}

func usage() {
	fmt.Printf("graphrt %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version              Show version")
	fmt.Println("  ops                  List built-in operators")
	fmt.Println("  devices              List usable devices")
	fmt.Println("  check-config FILE    Validate a configuration file")
}
