// Package main is the entry point for the issuesync CLI.
package main

import "github.com/basecamp/issuesync/internal/cli"

func main() {
	cli.Execute()
}
