//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

var (
	cwd, _ = os.Getwd()
	binDir = filepath.Join(cwd, "bin")
	binary = filepath.Join(binDir, "posebridge")
)

type Build mg.Namespace

// Cli compiles the posebridge binary into bin/.
func (Build) Cli() error {
	fmt.Println("Building posebridge...")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", binary, "."), withStream())
	return err
}

// Tidy refreshes go.mod and go.sum.
func (Build) Tidy() error {
	return goModTidy()
}

type Test mg.Namespace

// All runs every package test.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Race runs every package test with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

type Run mg.Namespace

// Info describes the files named by the FILES environment variable.
func (Run) Info() error {
	mg.Deps(Build.Cli)
	files := os.Getenv("FILES")
	if files == "" {
		return fmt.Errorf("set FILES to one or more array files")
	}
	_, err := executeCmd(binary, withArgs(append([]string{"info"}, filepath.SplitList(files)...)...), withStream())
	return err
}
