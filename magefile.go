//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// Build compiles both executables into ./bin
func Build() error {
	mg.Deps(BuildDecoder)
	mg.Deps(BuildScanRun)
	fmt.Println("Compilation finished")
	return nil
}

func BuildDecoder() error {
	fmt.Println("Building decoder executable...")
	return goBuild("./bin/decoder", "./decoder")
}

func BuildScanRun() error {
	fmt.Println("Building scanRun executable...")
	return goBuild("./bin/scanRun", "./scanRun")
}

// Test runs the unit tests of every package
func Test() error {
	return sh.RunV("go", "test", "./...")
}

func goBuild(output, pkg string) error {
	cmd := exec.Command("go", "build", "-o", output, pkg)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
