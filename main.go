package main

import "github.com/idanlevi/captionflow/cmd"

func main() {
	cmd.Execute()
}
