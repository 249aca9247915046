//go:build !unix

package engine

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// terminate has no graceful equivalent outside unix.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func forceKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
