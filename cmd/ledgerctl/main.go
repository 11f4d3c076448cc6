package main

import "github.com/fortunecoin/backend/internal/cli"

func main() {
	cli.Execute()
}
