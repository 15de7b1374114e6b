// Package main is the entry point for the DocuMind service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/docmind/cmd/docmind/app"
)

func main() {
	app.NewApp().Run()
}
