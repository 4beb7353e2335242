// Package configs embeds the default configuration template at build
// time via go:embed, so `hyperia config init` can write a starting
// .hyperia.yaml without shipping the template as a separate asset.
package configs

import _ "embed"

// ConfigTemplate is the starting-point YAML written by `hyperia config
// init`. See internal/config/config.go for the fields it sets.
//
//go:embed config.example.yaml
var ConfigTemplate string
