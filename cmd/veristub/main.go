package main

import (
	"fmt"
	"os"

	"github.com/veristub-labs/veristub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
