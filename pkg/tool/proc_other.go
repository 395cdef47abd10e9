//go:build !unix

package tool

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
