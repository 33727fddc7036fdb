package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const xvfbReadyTimeout = 5 * time.Second

// startXvfb runs an X server on cfg.XvfbDisplay so a headful Chrome can
// start on a machine without a screen. It returns once the display's
// socket exists.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-nolisten", "tcp", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start Xvfb %s: %w", display, err)
	}

	if err := waitDisplay(display, xvfbReadyTimeout); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: xvfb ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	cmd := m.xvfb
	m.xvfb = nil
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
	cmd.Wait()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
}

// waitDisplay polls for the unix socket of an X display such as ":99".
func waitDisplay(display string, timeout time.Duration) error {
	sock := displaySocket(display)
	if sock == "" {
		return fmt.Errorf("bad display %q", display)
	}
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(sock); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("display %s not ready after %s", display, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func displaySocket(display string) string {
	n, ok := strings.CutPrefix(display, ":")
	if !ok || n == "" {
		return ""
	}
	n, _, _ = strings.Cut(n, ".")
	return "/tmp/.X11-unix/X" + n
}
