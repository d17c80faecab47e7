//go:build !unix

package runner

import "os/exec"

// Process groups are a unix notion; elsewhere the default CommandContext kill
// of the direct child applies.
func setProcessGroup(cmd *exec.Cmd) {}
