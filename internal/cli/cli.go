// Package cli parses murmur command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandStop    Command = "stop"
	CommandUnload  Command = "unload"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandStatus:  {},
	CommandStop:    {},
	CommandUnload:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Verbose    bool
	Debug      bool
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}
	seenCommand := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "-v", "--verbose":
			parsed.Verbose = true
		case "--debug":
			parsed.Verbose = true
			parsed.Debug = true
		case "--config":
			if seenCommand {
				return Parsed{}, fmt.Errorf("--config must precede the command")
			}
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}
			if seenCommand {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", parsed.Command)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			seenCommand = true
		}
	}

	if parsed.Verbose && parsed.Command != CommandRun && !parsed.ShowHelp {
		return Parsed{}, fmt.Errorf("--verbose and --debug only apply to %q", CommandRun)
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [flags]

Commands:
  run       Start the dictation daemon (hold the hotkey to talk)
  status    Print daemon state
  stop      Stop the active recording and transcribe it
  unload    Release the transcription model until next use
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/murmur/config.jsonc)
  -v, --verbose   run: mirror logs to stderr
  --debug         run: mirror debug-level logs to stderr
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
