// Package flagx splits a command line between independent flag sets, so
// the config file flag can be read before the main flags are parsed.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only the flags named in allowed and their values.
// Both "-f value" and "-f=value" forms are recognised; a value is taken
// from the next argument only when it does not start with "-".
func FilterArgs(args []string, allowed []string) []string {
	kept, _ := partition(args, allowed)
	return kept
}

// DropArgs is the complement of FilterArgs.
func DropArgs(args []string, excluded []string) []string {
	_, rest := partition(args, excluded)
	return rest
}

func partition(args []string, names []string) (match, rest []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	match = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := set[name]; ok {
				match = append(match, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		if _, ok := set[arg]; !ok {
			rest = append(rest, arg)
			continue
		}
		match = append(match, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			match = append(match, args[i+1])
			i++
		}
	}
	return match, rest
}

// ConfigPath returns the value of -c or -config in args, or "" when
// neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, ConfigFlags))

	return path
}

// ConfigFlags are the flag spellings ConfigPath understands.
var ConfigFlags = []string{"-c", "-config", "--config"}
