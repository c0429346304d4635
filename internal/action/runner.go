package action

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNotConfigured is returned for an action whose command template is empty
// on this platform.
var ErrNotConfigured = errors.New("action: no command configured")

// Runner executes one OS command.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// ExecRunner runs commands with os/exec and waits for them to exit.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return ErrNotConfigured
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("action: %s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Commands are the command templates behind the OS actions. Templates are
// split on whitespace first and placeholders are substituted per argument,
// so a value never becomes more than one argument.
type Commands struct {
	OpenApp     string // {app}
	OpenURL     string // {url}
	MinimizeAll string
	VolumeUp    string
	VolumeDown  string
	VolumeMute  string
	Media       string // {command}
	Screenshot  string // {file}, {dir}
}

// DefaultCommands returns the templates for goos.
func DefaultCommands(goos string) Commands {
	switch goos {
	case "darwin":
		return Commands{
			OpenApp:    "open -a {app}",
			OpenURL:    "open {url}",
			Media:      "nowplaying-cli {command}",
			Screenshot: "screencapture -x {file}",
		}
	case "windows":
		return Commands{
			OpenApp: "rundll32 shell32.dll,ShellExec_RunDLL {app}",
			OpenURL: "rundll32 url.dll,FileProtocolHandler {url}",
		}
	default:
		return Commands{
			OpenApp:     "gtk-launch {app}",
			OpenURL:     "xdg-open {url}",
			MinimizeAll: "xdotool key super+d",
			VolumeUp:    "pactl set-sink-volume @DEFAULT_SINK@ +10%",
			VolumeDown:  "pactl set-sink-volume @DEFAULT_SINK@ -10%",
			VolumeMute:  "pactl set-sink-mute @DEFAULT_SINK@ toggle",
			Media:       "playerctl {command}",
			Screenshot:  "gnome-screenshot -f {file}",
		}
	}
}

// WithDefaults fills every empty template from DefaultCommands for the
// running platform.
func (c Commands) WithDefaults() Commands {
	d := DefaultCommands(runtime.GOOS)
	for _, p := range []struct{ dst, def *string }{
		{&c.OpenApp, &d.OpenApp},
		{&c.OpenURL, &d.OpenURL},
		{&c.MinimizeAll, &d.MinimizeAll},
		{&c.VolumeUp, &d.VolumeUp},
		{&c.VolumeDown, &d.VolumeDown},
		{&c.VolumeMute, &d.VolumeMute},
		{&c.Media, &d.Media},
		{&c.Screenshot, &d.Screenshot},
	} {
		if *p.dst == "" {
			*p.dst = *p.def
		}
	}
	return c
}

// Expand splits template into arguments and substitutes vars in each one.
func Expand(template string, vars map[string]string) []string {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields
}
