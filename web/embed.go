// Package web holds the page templates compiled into the binary.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var files embed.FS

// Templates returns the template tree rooted at templates/.
func Templates() fs.FS {
	sub, err := fs.Sub(files, "templates")
	if err != nil {
		// Only fails if the embed pattern above is wrong.
		panic(err)
	}
	return sub
}
