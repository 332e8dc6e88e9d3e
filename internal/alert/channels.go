package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// playerTimeout bounds the external sound player
const playerTimeout = 2 * time.Second

// BellSounder rings the terminal bell and optionally launches a sound player.
// Play never waits for the player to finish.
type BellSounder struct {
	out     io.Writer
	count   int
	command []string
}

// NewBellSounder creates a sounder writing count bells to out. command is a
// whitespace separated player invocation; empty disables the player.
func NewBellSounder(out io.Writer, count int, command string) *BellSounder {
	return &BellSounder{
		out:     out,
		count:   count,
		command: strings.Fields(command),
	}
}

// Play implements Sounder
func (b *BellSounder) Play() error {
	var errs []error

	if b.count > 0 && b.out != nil {
		if _, err := io.WriteString(b.out, strings.Repeat("\a", b.count)); err != nil {
			errs = append(errs, fmt.Errorf("bell: %w", err))
		}
	}

	if len(b.command) > 0 {
		if err := startDetached(playerTimeout, b.command[0], b.command[1:]...); err != nil {
			errs = append(errs, fmt.Errorf("sound player: %w", err))
		}
	}

	return errors.Join(errs...)
}

// NoopNotifier discards visual notifications
type NoopNotifier struct{}

// Notify implements Notifier
func (NoopNotifier) Notify(string, string) error { return nil }

// CommandNotifier shows notifications by launching an external program
type CommandNotifier struct {
	build   func(title, message string) []string
	timeout time.Duration
}

// Notify implements Notifier
func (n *CommandNotifier) Notify(title, message string) error {
	argv := n.build(title, message)
	return startDetached(n.timeout, argv[0], argv[1:]...)
}

// NewDesktopNotifier uses notify-send on a freedesktop session
func NewDesktopNotifier() *CommandNotifier {
	return &CommandNotifier{build: desktopCommand, timeout: 10 * time.Second}
}

// NewWSLNotifier pops a Windows message box from inside WSL
func NewWSLNotifier() *CommandNotifier {
	// the message box stays open until dismissed
	return &CommandNotifier{build: wslCommand, timeout: 10 * time.Minute}
}

func desktopCommand(title, message string) []string {
	return []string{"notify-send", "--urgency=critical", "--app-name=hids", title, message}
}

func wslCommand(title, message string) []string {
	script := fmt.Sprintf(
		"Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.MessageBox]::Show('%s', '%s', 'OK', 'Warning')",
		psQuote(message), psQuote(title))
	return []string{"powershell.exe", "-NoProfile", "-Command", script}
}

// psQuote escapes a value for a single-quoted PowerShell string
func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// NewNotifier picks the visual channel for mode (auto, desktop, wsl, none)
func NewNotifier(mode string) Notifier {
	switch mode {
	case "desktop":
		return NewDesktopNotifier()
	case "wsl":
		return NewWSLNotifier()
	case "none":
		return NoopNotifier{}
	}

	if isWSL() {
		if _, err := exec.LookPath("powershell.exe"); err == nil {
			return NewWSLNotifier()
		}
	}
	if os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("notify-send"); err == nil {
			return NewDesktopNotifier()
		}
	}
	return NoopNotifier{}
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// startDetached starts name and reaps it in the background, killing it after timeout
func startDetached(timeout time.Duration, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}
	go func() {
		defer cancel()
		_ = cmd.Wait()
	}()
	return nil
}
