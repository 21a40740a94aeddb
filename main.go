package main

import "github.com/gaurav-prasanna/pagecaption/cmd"

func main() {
	cmd.Execute()
}
