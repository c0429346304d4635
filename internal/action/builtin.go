package action

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/cherry/pkg/memory"
)

// Deps are the collaborators of the built-in actions.
type Deps struct {
	// Runner executes OS commands. Default: ExecRunner.
	Runner Runner

	// Commands are the OS command templates. Empty entries fall back to the
	// platform defaults.
	Commands Commands

	// Probe reads host statistics. Default: HostProbe.
	Probe Probe

	// Facts backs save_memory. When nil save_memory fails.
	Facts memory.Store

	// ScreenshotDir receives screenshots. Default: "screenshots".
	ScreenshotDir string

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// appName is what open_app accepts: letters, digits, spaces, dots,
// underscores and hyphens, starting with a letter or digit. Launchers never
// see shell metacharacters or something that parses as a flag.
var appName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

// ErrInvalidAppName is returned when open_app is asked for a name outside
// the accepted character set.
var ErrInvalidAppName = errors.New("action: open_app: invalid application name")

// MediaCommands are the accepted control_media arguments.
var MediaCommands = []string{"play", "pause", "next", "previous", "stop"}

// New returns a registry holding the built-in actions.
func New(d Deps) *Registry {
	if d.Runner == nil {
		d.Runner = ExecRunner{}
	}
	if d.Probe == nil {
		d.Probe = HostProbe{}
	}
	if d.ScreenshotDir == "" {
		d.ScreenshotDir = "screenshots"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Commands = d.Commands.WithDefaults()
	b := &builtins{Deps: d}

	r := NewRegistry()
	for _, a := range []Action{
		{Name: "get_system_stats", Tag: "STATS", Kind: KindAugmenting, Handler: b.stats,
			Description: "Checks current CPU, RAM, and battery levels."},
		{Name: "get_time", Tag: "TIME", Kind: KindAugmenting, Handler: b.currentTime,
			Description: "Tells the current local time."},
		{Name: "get_date", Tag: "DATE", Kind: KindAugmenting, Handler: b.today,
			Description: "Tells today's date."},
		{Name: "take_screenshot", Tag: "SCREENSHOT", Kind: KindAugmenting, Handler: b.screenshot,
			Description: "Captures the screen to an image file."},
		{Name: "minimize_all", Tag: "MINIMIZE", Kind: KindPlain, Handler: b.minimize,
			Description: "Minimizes all windows to show the desktop."},
		{Name: "open_app", Tag: "OPEN", Kind: KindParameterized, Handler: b.openApp,
			Description: "Opens a desktop application on the user's computer.",
			Param:       "app_name", ParamDescription: "The name of the application (e.g. 'firefox', 'calculator')."},
		{Name: "search_web", Tag: "SEARCH", Kind: KindParameterized, Handler: b.searchWeb,
			Description: "Performs a Google search in the default browser.",
			Param:       "query", ParamDescription: "The search query."},
		{Name: "play_youtube", Tag: "PLAY", Kind: KindParameterized, Handler: b.playYouTube,
			Description: "Searches and plays a video on YouTube.",
			Param:       "query", ParamDescription: "The video title or search term."},
		{Name: "adjust_volume", Tag: "VOLUME", Kind: KindParameterized, Handler: b.volume,
			Description: "Turns the system volume up or down, or mutes it.",
			Param:       "direction", ParamDescription: "up, down or mute.", Enum: []string{"up", "down", "mute"}},
		{Name: "control_media", Tag: "MEDIA", Kind: KindParameterized, Handler: b.media,
			Description: "Controls system media playback.",
			Param:       "command", ParamDescription: "The media control command.", Enum: MediaCommands},
		{Name: "save_memory", Tag: "REMEMBER", Kind: KindParameterized, Handler: b.remember,
			Description: "Saves a new fact about the user to long-term memory.",
			Param:       "fact", ParamDescription: "The fact to remember (e.g. 'User likes sushi')."},
	} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

type builtins struct {
	Deps
}

func (b *builtins) exec(ctx context.Context, name, template string, vars map[string]string) error {
	argv := Expand(template, vars)
	if len(argv) == 0 {
		return fmt.Errorf("%w for %s", ErrNotConfigured, name)
	}
	return b.Runner.Run(ctx, argv)
}

func (b *builtins) stats(ctx context.Context, _ string) (string, error) {
	s, err := b.Probe.Stats(ctx)
	if err != nil {
		return "", err
	}
	return FormatStats(s), nil
}

func (b *builtins) currentTime(context.Context, string) (string, error) {
	return "It is " + b.Now().Format("3:04 PM") + ".", nil
}

func (b *builtins) today(context.Context, string) (string, error) {
	return "Today is " + b.Now().Format("Monday, January 2, 2006") + ".", nil
}

func (b *builtins) screenshot(ctx context.Context, _ string) (string, error) {
	if err := os.MkdirAll(b.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("action: screenshot dir: %w", err)
	}
	file := filepath.Join(b.ScreenshotDir, "screenshot_"+b.Now().Format("20060102_150405")+".png")
	if err := b.exec(ctx, "take_screenshot", b.Commands.Screenshot, map[string]string{"file": file, "dir": b.ScreenshotDir}); err != nil {
		return "", err
	}
	return "Screenshot saved to " + file + ".", nil
}

func (b *builtins) minimize(ctx context.Context, _ string) (string, error) {
	if err := b.exec(ctx, "minimize_all", b.Commands.MinimizeAll, nil); err != nil {
		return "", err
	}
	return "Minimizing all windows.", nil
}

func (b *builtins) openApp(ctx context.Context, app string) (string, error) {
	if app == "" {
		return "", errors.New("action: open_app: no application named")
	}
	if !appName.MatchString(app) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAppName, app)
	}
	if err := b.exec(ctx, "open_app", b.Commands.OpenApp, map[string]string{"app": strings.ToLower(app)}); err != nil {
		return "", err
	}
	return "Attempting to open " + app + ".", nil
}

func (b *builtins) openURL(ctx context.Context, name, u string) error {
	return b.exec(ctx, name, b.Commands.OpenURL, map[string]string{"url": u})
}

func (b *builtins) searchWeb(ctx context.Context, q string) (string, error) {
	if q == "" {
		return "", errors.New("action: search_web: empty query")
	}
	if err := b.openURL(ctx, "search_web", SearchURL(q)); err != nil {
		return "", err
	}
	return "Searching for " + q + " on the web.", nil
}

func (b *builtins) playYouTube(ctx context.Context, q string) (string, error) {
	if q == "" {
		return "", errors.New("action: play_youtube: empty query")
	}
	if err := b.openURL(ctx, "play_youtube", YouTubeURL(q)); err != nil {
		return "", err
	}
	return "Playing " + q + " on YouTube.", nil
}

func (b *builtins) volume(ctx context.Context, direction string) (string, error) {
	d := strings.ToLower(direction)
	var template, reply string
	switch {
	case strings.Contains(d, "up"):
		template, reply = b.Commands.VolumeUp, "Turning volume up."
	case strings.Contains(d, "down"):
		template, reply = b.Commands.VolumeDown, "Turning volume down."
	case strings.Contains(d, "mute"):
		template, reply = b.Commands.VolumeMute, "Muting volume."
	default:
		return "I couldn't understand the volume command.", nil
	}
	if err := b.exec(ctx, "adjust_volume", template, nil); err != nil {
		return "", err
	}
	return reply, nil
}

func (b *builtins) media(ctx context.Context, command string) (string, error) {
	c := strings.ToLower(command)
	if !slices.Contains(MediaCommands, c) {
		return "", fmt.Errorf("action: control_media: unknown command %q", command)
	}
	if err := b.exec(ctx, "control_media", b.Commands.Media, map[string]string{"command": c}); err != nil {
		return "", err
	}
	return "Media " + c + ".", nil
}

func (b *builtins) remember(ctx context.Context, fact string) (string, error) {
	if b.Facts == nil {
		return "", errors.New("action: save_memory: no fact store configured")
	}
	if _, err := b.Facts.Save(ctx, fact); err != nil {
		return "", err
	}
	return "I'll remember that.", nil
}

// SearchURL is the Google results page for q.
func SearchURL(q string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(q)
}

// YouTubeURL is the YouTube results page for q.
func YouTubeURL(q string) string {
	return "https://www.youtube.com/results?search_query=" + url.QueryEscape(q)
}
