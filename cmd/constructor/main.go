package main

import "github.com/conda/conda-constructor/cmd/constructor/cmd"

func main() {
	cmd.Execute()
}
