package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc adds a sub-command to a parent go-flags Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects sub-commands keyed on the dotted path of their
// parent command (eg "checkpoints" or "checkpoints.reset"), so that commands
// may be declared independently of one another and attached in one pass.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers a command named |command| under dotted |parentName|.
// An empty |parentName| registers a top-level command.
func (cr CommandRegistry) AddCommand(parentName, command, shortDescription, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		var _, err = cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands attaches commands registered under |rootName| to |rootCmd|.
// If |recursive|, commands registered under each attached command are
// attached in turn.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command, recursive bool) error {
	for _, fn := range cr[rootName] {
		if err := fn(rootCmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, cmd := range rootCmd.Commands() {
		var name = cmd.Name
		if rootName != "" {
			name = rootName + "." + name
		}
		if err := cr.AddCommands(name, cmd, true); err != nil {
			return err
		}
	}
	return nil
}
