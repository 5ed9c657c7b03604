// Command test-parse runs the recommendation output parser over a saved
// model answer, for checking format drift without a full batch run.
package main

import (
	"fmt"
	"os"

	"github.com/treadline-ai/treadline/internal/domain"
	"github.com/treadline-ai/treadline/internal/recommend"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: go run main.go <output_file> <vehicle> <size>")
		os.Exit(1)
	}

	content, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}

	slots, err := recommend.Parse(string(content), os.Args[2], os.Args[3])
	if err != nil {
		fmt.Printf("Error parsing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Parsed slots: %d\n", len(slots))
	fmt.Println("\nHotboxes:")
	for i, slot := range slots[:domain.HotboxCount] {
		fmt.Printf("HB%d: %s\n", i+1, slot)
	}
	fmt.Println("\nSKUs:")
	for i, slot := range slots[domain.HotboxCount:] {
		fmt.Printf("SKU%d: %s\n", i+1, slot)
	}
}
