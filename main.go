package main

import (
	"log"

	"evetia/cmd"
	_ "evetia/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
