package app

// Version 在构建时通过 -ldflags "-X app-alfen-go.Version=x.y.z" 覆盖
var Version = "0.1.0-dev"
