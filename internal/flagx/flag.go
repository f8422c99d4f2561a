// Package flagx lets several independent flag sets share one command line.
// The server config, the JSON config locator and the import tool each parse
// only the flags they own.
package flagx

import (
	"flag"
	"strings"
)

// SplitArgs partitions args into the arguments that belong to the allowed
// flags (together with their values) and everything else, keeping order.
//
// Both "-f value" and "-f=value" forms are recognised. A value is taken from
// the next argument only when that argument does not itself start with "-".
func SplitArgs(args []string, allowedFlags []string) (matched []string, rest []string) {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	matched = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") {
			if name, _, ok := strings.Cut(arg, "="); ok {
				if _, found := allowed[name]; found {
					matched = append(matched, arg)
				} else {
					rest = append(rest, arg)
				}
				continue
			}
		}

		if _, found := allowed[arg]; !found {
			rest = append(rest, arg)
			continue
		}

		matched = append(matched, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			matched = append(matched, args[i+1])
			i++
		}
	}

	return matched, rest
}

// FilterArgs returns only the allowed flags and their values.
func FilterArgs(args []string, allowedFlags []string) []string {
	matched, _ := SplitArgs(args, allowedFlags)
	return matched
}

// JsonConfigFlags extracts the config file path given via -c or -config.
// It returns "" when neither flag is present.
func JsonConfigFlags(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return path
}
