package config

import _ "embed"

// DefaultDocument is the built-in check-definition document, used when no
// config file is given and none exists under ~/.config/loopsleuth.
//
//go:embed loopsleuth.yaml
var DefaultDocument string
