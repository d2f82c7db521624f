package server

import "strings"

// command is one parsed control command. Verbs are matched case-sensitively.
type command struct {
	verb string
	arg  string
}

// parseLine splits a control line into commands.
//
// With batching enabled the line is first split on ';' and every non-empty
// part becomes its own command, in order. An empty line yields no command.
func parseLine(line string, batching bool) []command {
	if !batching {
		if cmd, ok := parseCommand(line); ok {
			return []command{cmd}
		}
		return nil
	}

	var cmds []command
	for part := range strings.SplitSeq(line, ";") {
		if cmd, ok := parseCommand(part); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// parseCommand splits s into a verb and the remainder after the first run of
// blanks. Surrounding whitespace is trimmed from both.
func parseCommand(s string) (command, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return command{}, false
	}

	verb, arg, found := strings.Cut(s, " ")
	if i := strings.IndexByte(verb, '\t'); i >= 0 {
		// "VERB\targ"
		verb, arg, found = s[:i], s[i+1:], true
	}
	if !found {
		return command{verb: s}, true
	}
	return command{verb: verb, arg: strings.TrimSpace(arg)}, true
}
