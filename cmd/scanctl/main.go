package main

import (
	"fmt"
	"os"

	_ "github.com/jo-hoe/tumorcam/internal/model/tflite"
)

func main() {
	if err := RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
