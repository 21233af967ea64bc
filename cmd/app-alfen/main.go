package main

import (
	app "app-alfen-go"
	"app-alfen-go/internal/pkg/startup"
)

const AppName = "app-alfen-go"

func main() {
	startup.BootStrap(AppName, app.Version)
}
