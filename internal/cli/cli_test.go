package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/murmur.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/murmur.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     string
		wantCmd     Command
		wantHelp    bool
		wantVerbose bool
		wantDebug   bool
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "run verbose", args: []string{"run", "--verbose"}, wantCmd: CommandRun, wantVerbose: true},
		{name: "run debug before command", args: []string{"--debug", "run"}, wantCmd: CommandRun, wantVerbose: true, wantDebug: true},
		{name: "unload", args: []string{"unload"}, wantCmd: CommandUnload},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "must precede the command"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a path"},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"toggle"}, wantErr: "unknown command"},
		{name: "extra args after command", args: []string{"doctor", "extra"}, wantErr: "unexpected arguments"},
		{name: "verbose outside run", args: []string{"status", "-v"}, wantErr: "only apply to"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantVerbose, parsed.Verbose)
			require.Equal(t, tc.wantDebug, parsed.Debug)
		})
	}
}

func TestHelpTextListsCommands(t *testing.T) {
	text := HelpText("murmur")
	for _, cmd := range []Command{CommandRun, CommandStatus, CommandStop, CommandUnload, CommandDevices, CommandDoctor} {
		require.Contains(t, text, "  "+string(cmd))
	}
	require.Contains(t, text, "murmur/config.jsonc")
}
