package main

import _ "embed"

// indexHTML is the embedded status page template.
//
//go:embed web/index.html
var indexHTML string
