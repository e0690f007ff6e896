// Package doctor runs readiness diagnostics for config, credentials, tools, and audio.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/hypr"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, tool, credential, and audio checks for a
// loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{configCheck(cfg)}

	checks = append(checks, checkEnv("XDG_SESSION_TYPE", func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), "wayland")
	}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"))

	checks = append(checks, checkEngine(cfg.Config.Engine))
	if cfg.Config.Polish.Backend != "none" {
		checks = append(checks, checkAPIKey("polish.api_key", cfg.Config.Polish.APIKeyEnv))
	}

	checks = append(checks, checkCommand(cfg.Config.Inject.TypeCmd.Argv, "type_cmd"))
	switch cfg.Config.Inject.Paste {
	case "hypr":
		hyprCheck := Check{Name: "HYPRLAND_INSTANCE_SIGNATURE", Pass: hypr.Running(), Message: "Hyprland session detected"}
		if !hyprCheck.Pass {
			hyprCheck.Message = "HYPRLAND_INSTANCE_SIGNATURE is empty"
		}
		checks = append(checks, hyprCheck)
		checks = append(checks, checkBinary("hyprctl", "hypr paste requires hyprctl"))
	case "command":
		checks = append(checks, checkCommand(cfg.Config.Inject.PasteCmd.Argv, "paste_cmd"))
	}

	if cfg.Config.Audio.Backend == "pulse" {
		checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	}

	return Report{Checks: checks}
}

func configCheck(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if n := len(cfg.Warnings); n > 0 {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEngine validates whatever the configured engine backend needs to load.
func checkEngine(cfg config.EngineConfig) Check {
	switch cfg.Backend {
	case "openai":
		return checkAPIKey("engine.api_key", cfg.APIKeyEnv)
	case "command":
		return checkCommand(cfg.Command.Argv, "engine.command")
	default:
		return Check{Name: "engine", Pass: false, Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// checkAPIKey validates that the named environment variable holds a key
// without echoing it.
func checkAPIKey(name string, envName string) Check {
	return checkEnv(envName, func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, fmt.Sprintf("%s is set", name), fmt.Sprintf("%s: %s is empty", name, envName))
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}
