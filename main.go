// Command usm runs the URL summarization API and workers.
package main

import (
	"os"

	"github.com/shivamtherexpandey/usm-app/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
