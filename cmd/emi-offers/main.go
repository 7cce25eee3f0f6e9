package main

import "emi-offers/internal/cli"

func main() {
	cli.Execute()
}
