package main

import "github.com/waltergaltieri/postia/internal/cli"

func main() {
	cli.Execute()
}
