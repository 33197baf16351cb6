package main

import (
	"log"

	"ticket-reserve/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
