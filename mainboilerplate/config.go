package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// ConfigDirEnv names an environment variable of an additional directory
// searched for INI configuration.
const ConfigDirEnv = "DOCRELAY_CONFIG_DIR"

// ConfigSearchPaths returns candidate paths of INI file |configName|, in
// order of preference:
//   - The current working directory.
//   - $DOCRELAY_CONFIG_DIR, if set.
//   - ~/.config/docrelay (under the user's $HOME or %UserProfile% directory).
func ConfigSearchPaths(configName string) []string {
	var dirs = []string{"."}
	if d := os.Getenv(ConfigDirEnv); d != "" {
		dirs = append(dirs, d)
	}
	for _, home := range []string{os.Getenv("HOME"), os.Getenv("UserProfile")} {
		if home != "" {
			dirs = append(dirs, filepath.Join(home, ".config", "docrelay"))
		}
	}
	var out []string
	for _, d := range dirs {
		out = append(out, filepath.Join(d, configName))
	}
	return out
}

// MustParseConfig requires that the Parser parse from the combination of an
// optional INI file found in ConfigSearchPaths, configured environment
// bindings, and explicit flags. Only the first INI file found is applied.
func MustParseConfig(parser *flags.Parser, configName string) {
	// INI files may carry options of sub-commands not being run.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var ini = flags.NewIniParser(parser)
	for _, path := range ConfigSearchPaths(configName) {
		var err = ini.ParseFile(path)
		if err == nil {
			break
		} else if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	parser.Options = origOptions
	MustParseArgs(parser)
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// A malformed configuration struct, rather than bad input.
		panic(err)

	case flags.ErrCommandRequired, flags.ErrHelp:
		if flagErr.Type == flags.ErrCommandRequired || parser.Options&flags.PrintErrors == 0 {
			os.Stderr.WriteString("\n")
			parser.WriteHelp(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
		os.Exit(1)

	default:
		// go-flags has already printed a message describing the input error.
		os.Exit(1)
	}
}

// AddPrintConfigCmd adds a "print-config" command to the Parser, which
// writes the combined runtime configuration in INI format. Operators use it
// to check which values of flags, environment and INI file are in effect.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
