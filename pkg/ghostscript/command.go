// Package ghostscript knows how to find a Ghostscript binary and how to ask it
// to rasterize a set of input documents.
package ghostscript

import "fmt"

const (
	DefaultResolution = 200
	DefaultDevice     = "tiffg4"
)

// BuildArgs returns the argument vector (without the executable itself) that
// renders inputPaths into outputPath at the given resolution and device.
func BuildArgs(resolution int, device, outputPath string, inputPaths []string) []string {
	args := []string{
		"-q",        // quiet
		"-dBATCH",   // exit after the last file
		"-dNOPAUSE", // no prompt between pages
		fmt.Sprintf("-r%d", resolution),
		"-sDEVICE=" + device, // tiffg4, tifflzw, png16m, ...
		"-sOutputFile=" + outputPath,
	}
	args = append(args, inputPaths...)
	return append(args, "-c", "quit")
}
