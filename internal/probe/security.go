package probe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Directories that legitimate long-running binaries are not started from.
var suspiciousExeDirs = []string{"/tmp/", "/var/tmp/", "/dev/shm/"}

// Ports commonly used by backdoors.
var suspiciousPorts = map[uint32]bool{31337: true, 12345: true, 54321: true}

// Auth logs scanned for failed SSH logins, first readable one wins.
var defaultAuthLogs = []string{"/var/log/auth.log", "/var/log/secure"}

const (
	authLogTailLines = 100
	authLogTailBytes = 64 << 10
	sshFailThreshold = 10
)

// SecurityProbe reports coarse security signals as human-readable issues:
// processes with a flagged name, processes running out of temporary
// directories, listeners on well-known backdoor ports and bursts of failed
// SSH logins in the auth log.
type SecurityProbe struct {
	names    map[string]bool
	authLogs []string
	logger   *zap.Logger
}

// NewSecurityProbe flags processes whose name matches one of names
// (case-insensitive).
func NewSecurityProbe(names []string, logger *zap.Logger) *SecurityProbe {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return &SecurityProbe{names: set, authLogs: defaultAuthLogs, logger: logger}
}

func (p *SecurityProbe) Name() string { return NameSecurity }

// Collect returns a sorted []string. Inaccessible processes are skipped.
func (p *SecurityProbe) Collect(ctx context.Context) (interface{}, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	issues := []string{}
	for _, proc := range procs {
		name, _ := proc.NameWithContext(ctx)
		exe, _ := proc.ExeWithContext(ctx)
		issues = append(issues, p.checkProcess(proc.Pid, name, exe)...)
	}

	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		p.logger.Debug("Listening sockets not available", zap.Error(err))
	}
	issues = append(issues, checkListeners(conns)...)
	issues = append(issues, p.checkSSHAttempts()...)

	sort.Strings(issues)
	return issues, nil
}

func (p *SecurityProbe) IsAvailable() bool { return true }

func (p *SecurityProbe) checkProcess(pid int32, name, exe string) []string {
	var issues []string
	if name != "" && p.names[strings.ToLower(name)] {
		issues = append(issues, fmt.Sprintf("suspicious process: %s (pid %d)", name, pid))
	}
	if exe != "" {
		slashed := filepath.ToSlash(exe)
		for _, dir := range suspiciousExeDirs {
			if strings.HasPrefix(slashed, dir) {
				issues = append(issues, fmt.Sprintf("process running from %s: %s (pid %d)", dir, exe, pid))
				break
			}
		}
	}
	return issues
}

func checkListeners(conns []net.ConnectionStat) []string {
	seen := map[uint32]bool{}
	var issues []string
	for _, c := range conns {
		if c.Status != "LISTEN" || !suspiciousPorts[c.Laddr.Port] || seen[c.Laddr.Port] {
			continue
		}
		seen[c.Laddr.Port] = true
		issues = append(issues, fmt.Sprintf("listening on unusual port %d (pid %d)", c.Laddr.Port, c.Pid))
	}
	return issues
}

// checkSSHAttempts counts "Failed password" lines in the tail of the first
// readable auth log. Hosts without one report nothing.
func (p *SecurityProbe) checkSSHAttempts() []string {
	for _, path := range p.authLogs {
		lines, err := tailLines(path, authLogTailLines)
		if err != nil {
			if !os.IsNotExist(err) {
				p.logger.Debug("Auth log not readable", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		failed := 0
		for _, line := range lines {
			if strings.Contains(line, "Failed password") {
				failed++
			}
		}
		if failed > sshFailThreshold {
			return []string{fmt.Sprintf("high number of failed SSH attempts: %d in recent logs", failed)}
		}
		return nil
	}
	return nil
}

// tailLines returns up to n trailing lines of path, reading at most
// authLogTailBytes from the end.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - authLogTailBytes
	if offset < 0 {
		offset = 0
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		// Drop the partial first line.
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(buf))
	sc.Buffer(make([]byte, 0, 4096), authLogTailBytes)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, sc.Err()
}
