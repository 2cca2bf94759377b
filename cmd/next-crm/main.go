package main

import "github.com/ashwinyue/next-crm/internal/cli"

func main() {
	cli.Execute()
}
