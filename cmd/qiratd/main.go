package main

import "github.com/qirat-network/qiratd/internal/cli"

func main() {
	cli.Execute()
}
