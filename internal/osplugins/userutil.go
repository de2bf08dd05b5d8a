package osplugins

import (
	"os/exec"
	"strings"

	"ssh-access-granting-service/types"
)

// useraddArgs builds the sudo argument list creating spec's account with its own user group
func useraddArgs(spec types.AccountSpec, shell string) []string {
	args := []string{"useradd", "--user-group"}
	if len(spec.Groups) > 0 {
		args = append(args, "--groups", strings.Join(spec.Groups, ","))
	}
	args = append(args, "--shell", shell, "--create-home")
	if spec.Comment != "" {
		args = append(args, "--comment", spec.Comment)
	}
	return append(args, spec.Name)
}

func commandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
