//go:build ignore

// 构建 control、simulator、armctl 到 bin/ 目录：go run build.go [-race]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

func main() {
	race := flag.Bool("race", false, "build with the race detector")
	outputDir := flag.String("o", "bin", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// go-sqlite3 需要 cgo
	env := append(os.Environ(), "CGO_ENABLED=1")

	modules := []struct {
		name string
		path string
	}{
		{"control", "./cmd/control"},
		{"simulator", "./cmd/simulator"},
		{"armctl", "./cmd/armctl"},
	}

	for _, mod := range modules {
		outputPath := filepath.Join(*outputDir, mod.name)
		fmt.Printf("Building %s -> %s\n", mod.name, outputPath)

		args := []string{"build", "-trimpath"}
		if *race {
			args = append(args, "-race")
		}
		args = append(args, "-o", outputPath, mod.path)

		cmd := exec.Command("go", args...)
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			fmt.Printf("Error building %s: %v\n", mod.name, err)
			os.Exit(1)
		}
	}

	fmt.Println("All builds completed successfully!")
}
