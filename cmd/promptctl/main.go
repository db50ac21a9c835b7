// promptctl manages the analysis prompt file used by boxcount-server.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"boxcount-server-go/internal/domain/prompt"
)

func main() {
	file := flag.String("file", "prompt.txt", "path to the prompt file")
	flag.Parse()

	command := strings.ToLower(flag.Arg(0))
	switch command {
	case "show":
		show(*file)
	case "create":
		create(*file)
	case "backup":
		backup(*file)
	case "":
		usage()
		fmt.Println()
		show(*file)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Prompt management utility")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Println("Usage:")
	fmt.Println("  promptctl show      # Display current prompt")
	fmt.Println("  promptctl create    # Create new template")
	fmt.Println("  promptctl backup    # Backup current prompt")
}

func show(path string) {
	fmt.Println("Current vision prompt")
	fmt.Println(strings.Repeat("=", 60))

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", path, err)
		os.Exit(1)
	}

	text := strings.TrimSpace(string(data))
	fmt.Println(text)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Length: %d characters\n", len(text))
	fmt.Printf("Lines: %d\n", len(strings.Split(text, "\n")))
	if abs, err := filepath.Abs(path); err == nil {
		fmt.Printf("File: %s\n", abs)
	}
}

func create(path string) {
	if err := os.WriteFile(path, []byte(prompt.Template), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Created prompt template: %s\n", path)
}

func backup(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", path, err)
		os.Exit(1)
	}

	backupName := fmt.Sprintf("prompt_backup_%s.txt", time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backupName, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "cannot write %s: %v\n", backupName, err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", backupName)
}
