// Package web holds the default page served at / when no static directory
// is configured.
package web

import _ "embed"

// Index is the built-in detection page.
//
//go:embed index.html
var Index []byte
