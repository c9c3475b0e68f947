package main

import "github.com/davidpm1021/TriviaBot/cmd"

func main() {
	cmd.Execute()
}
