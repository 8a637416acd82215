package aria2

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const unitTemplate = `[Unit]
Description=Aria2 Download Manager
After=network.target

[Service]
Type=simple
ExecStart=%s --conf-path=%s
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// ServiceStatus describes the aria2 daemon as seen through systemd.
type ServiceStatus struct {
	Installed bool
	Running   bool
	PID       int
	Enabled   bool
}

// Supervisor manages the aria2 daemon's user-level systemd unit.
type Supervisor struct {
	binPath  string
	confPath string
	unitPath string
	logger   *logrus.Logger
}

func NewSupervisor(binPath, confPath, unitPath string, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{
		binPath:  binPath,
		confPath: confPath,
		unitPath: unitPath,
		logger:   logger,
	}
}

func (s *Supervisor) systemctl(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "systemctl", append([]string{"--user"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("systemctl %s: %s", strings.Join(args, " "), msg)
	}
	return nil
}

func (s *Supervisor) ensureUnitFile(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.unitPath), 0o755); err != nil {
		return fmt.Errorf("create systemd user dir: %w", err)
	}
	content := fmt.Sprintf(unitTemplate, s.binPath, s.confPath)
	if err := os.WriteFile(s.unitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	return s.systemctl(ctx, "daemon-reload")
}

func (s *Supervisor) Installed() bool {
	_, err := os.Stat(s.binPath)
	return err == nil
}

func (s *Supervisor) Start(ctx context.Context) error {
	if !s.Installed() {
		return fmt.Errorf("aria2 binary not found at %s", s.binPath)
	}
	if err := s.ensureUnitFile(ctx); err != nil {
		return err
	}
	if err := s.systemctl(ctx, "start", "aria2"); err != nil {
		return err
	}
	s.logger.Info("aria2 service started")
	return nil
}

func (s *Supervisor) Stop(ctx context.Context) error {
	if err := s.systemctl(ctx, "stop", "aria2"); err != nil {
		return err
	}
	s.logger.Info("aria2 service stopped")
	return nil
}

func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.systemctl(ctx, "restart", "aria2"); err != nil {
		return err
	}
	s.logger.Info("aria2 service restarted")
	return nil
}

func (s *Supervisor) Status(ctx context.Context) ServiceStatus {
	status := ServiceStatus{Installed: s.Installed()}
	if status.Installed {
		status.PID = s.pid(ctx)
	}

	active := exec.CommandContext(ctx, "systemctl", "--user", "is-active", "aria2")
	status.Running = active.Run() == nil

	enabled := exec.CommandContext(ctx, "systemctl", "--user", "is-enabled", "aria2")
	status.Enabled = enabled.Run() == nil

	return status
}

// pid finds the aria2c process, preferring pgrep with a ps fallback.
func (s *Supervisor) pid(ctx context.Context) int {
	out, err := exec.CommandContext(ctx, "pgrep", "-u", strconv.Itoa(os.Getuid()), "-f", "aria2c").Output()
	if err != nil {
		out, err = exec.CommandContext(ctx, "ps", "-C", "aria2c", "-o", "pid=").Output()
		if err != nil {
			return 0
		}
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if pid, err := strconv.Atoi(line); err == nil {
			return pid
		}
	}
	return 0
}

// TailLog returns the last n lines of the aria2 log file.
func (s *Supervisor) TailLog(logPath string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read log: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
