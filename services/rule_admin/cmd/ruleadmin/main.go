package main

import (
	"os"

	"github.com/cropguard/recommendation/services/rule_admin/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
