package main

import "github.com/slateroom/slateroom/cmd"

func main() {
	cmd.Execute()
}
