// Package launch builds and runs external benchmark executables under a
// multi-process launcher.
package launch

import (
	"strconv"
	"strings"
)

// Command is an executable with its ordered argument list. Arguments are
// passed verbatim; no shell is involved.
type Command struct {
	Path string
	Args []string
}

// Argv returns the full argument vector including the program.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Path)
	return append(argv, c.Args...)
}

// String renders the command line for logs. Arguments containing spaces or
// quotes are single-quoted so the line can be pasted into a shell.
func (c Command) String() string {
	parts := c.Argv()
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`*?;&|<>()") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Launcher describes how executables fan out to worker processes.
type Launcher struct {
	// Program is the launcher binary (e.g. mpirun); empty runs executables directly
	Program string

	// Flags are passed after the host list and before the process count
	Flags []string

	// HostFile is the optional host placement list
	HostFile string

	// HostFileFlag defaults to --hostfile
	HostFileFlag string

	// NProcsFlag defaults to -np
	NProcsFlag string
}

// NewMPILauncher returns the mpirun launcher used by the benchmark cluster.
func NewMPILauncher(hostFile string, flags ...string) Launcher {
	return Launcher{
		Program:  "mpirun",
		Flags:    flags,
		HostFile: hostFile,
	}
}

// Command builds the launch command for exe on nprocs workers:
//
//	<program> [--hostfile H] <flags...> -np N <exe> <args...>
func (l Launcher) Command(nprocs int, exe string, args ...string) Command {
	if l.Program == "" {
		return Command{Path: exe, Args: append([]string(nil), args...)}
	}

	hostFlag := l.HostFileFlag
	if hostFlag == "" {
		hostFlag = "--hostfile"
	}
	npFlag := l.NProcsFlag
	if npFlag == "" {
		npFlag = "-np"
	}

	cmdArgs := make([]string, 0, len(l.Flags)+len(args)+5)
	if l.HostFile != "" {
		cmdArgs = append(cmdArgs, hostFlag, l.HostFile)
	}
	cmdArgs = append(cmdArgs, l.Flags...)
	cmdArgs = append(cmdArgs, npFlag, strconv.Itoa(nprocs), exe)
	cmdArgs = append(cmdArgs, args...)

	return Command{Path: l.Program, Args: cmdArgs}
}
