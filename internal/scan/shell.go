package scan

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellLine is the flattened view of one parsed shell line: every command
// in sequence order plus the executable pairs joined by a pipe. Proximity
// rules only need this much structure, not the full AST.
type shellLine struct {
	commands  [][]string
	pipePairs [][2]string
}

// parseShellLine parses one line as bash and flattens it. Returns nil when
// the line is not parseable as shell, which is the common case for prose.
func parseShellLine(line string) *shellLine {
	if len(line) > 2000 {
		return nil
	}
	if !strings.ContainsAny(line, "|&;") && !looksLikeCommand(line) {
		return nil
	}
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil
	}
	sl := &shellLine{}
	for _, stmt := range file.Stmts {
		sl.walk(stmt)
	}
	if len(sl.commands) == 0 {
		return nil
	}
	return sl
}

// looksLikeCommand is a cheap pre-filter so the shell parser only runs on
// lines that start with a plausible executable.
func looksLikeCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	switch fields[0] {
	case "curl", "wget", "git", "npm", "npx", "yarn", "pnpm", "pip", "pip3",
		"python", "python3", "node", "sh", "bash", "sudo", "rm", "chmod",
		"nc", "ncat", "netcat", "powershell", "base64", "docker", "go",
		"cargo", "gem", "composer":
		return true
	}
	return false
}

func (sl *shellLine) walk(stmt *syntax.Stmt) {
	if stmt == nil || stmt.Cmd == nil {
		return
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if argv := callArgv(cmd); len(argv) > 0 {
			sl.commands = append(sl.commands, argv)
		}
	case *syntax.BinaryCmd:
		before := len(sl.commands)
		sl.walk(cmd.X)
		mid := len(sl.commands)
		sl.walk(cmd.Y)
		if cmd.Op == syntax.Pipe && mid > before && len(sl.commands) > mid {
			sl.pipePairs = append(sl.pipePairs, [2]string{
				executable(sl.commands[mid-1]),
				executable(sl.commands[mid]),
			})
		}
	case *syntax.Subshell:
		for _, s := range cmd.Stmts {
			sl.walk(s)
		}
	}
}

func callArgv(call *syntax.CallExpr) []string {
	argv := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		var sb strings.Builder
		printer := syntax.NewPrinter()
		if err := printer.Print(&sb, word); err != nil {
			continue
		}
		argv = append(argv, sb.String())
	}
	return argv
}

// executable returns the command name with any sudo prefix stripped.
func executable(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	name := argv[0]
	if name == "sudo" {
		for _, a := range argv[1:] {
			if !strings.HasPrefix(a, "-") {
				name = a
				break
			}
		}
	}
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func isShellTarget(exe string) bool {
	switch exe {
	case "sh", "bash", "zsh", "dash", "ksh":
		return true
	}
	return false
}

func isDownloadTool(exe string) bool {
	return exe == "curl" || exe == "wget"
}

// pipesToShell reports whether the line pipes a download tool into a shell.
func (sl *shellLine) pipesToShell() bool {
	for _, pair := range sl.pipePairs {
		if isDownloadTool(pair[0]) && isShellTarget(pair[1]) {
			return true
		}
	}
	return false
}

// cloneThenExecute reports whether a git clone is followed in the same
// line by an execution step (npm run, node, python, or a local script).
func (sl *shellLine) cloneThenExecute() bool {
	cloned := false
	for _, argv := range sl.commands {
		exe := executable(argv)
		if exe == "git" && hasArg(argv, "clone") {
			cloned = true
			continue
		}
		if !cloned {
			continue
		}
		switch {
		case exe == "node", exe == "python", exe == "python3":
			return true
		case exe == "npm" && hasArg(argv, "run"):
			return true
		case strings.HasPrefix(argv[0], "./"):
			return true
		}
	}
	return false
}

// installThenRun reports whether npm install is followed in the same line
// by npm start/run, node, or npx.
func (sl *shellLine) installThenRun() bool {
	installed := false
	for _, argv := range sl.commands {
		exe := executable(argv)
		if exe == "npm" && hasArg(argv, "install") {
			installed = true
			continue
		}
		if !installed {
			continue
		}
		switch {
		case exe == "node", exe == "npx":
			return true
		case exe == "npm" && (hasArg(argv, "start") || hasArg(argv, "run")):
			return true
		}
	}
	return false
}

func hasArg(argv []string, want string) bool {
	for _, a := range argv[1:] {
		if a == want {
			return true
		}
	}
	return false
}
