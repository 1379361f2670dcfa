package packages

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return out, fmt.Errorf("command failed: %w", err)
		}
		return out, fmt.Errorf("command failed: %w: %s", err, msg)
	}
	return out, nil
}

// backend describes how one package manager spells each operation.
type backend struct {
	binary    string
	install   func(name, version string) []string
	uninstall func(name string) []string
	update    func(name string) []string
	search    func(query string) []string
	parse     func(line string) string
	list      []string
	version   func(name string) []string
}

func rpmVersion(name string) []string {
	return []string{"rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name}
}

var rpmList = []string{"rpm", "-qa", "--queryformat", "%{NAME}\n"}

func firstField(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var backends = map[string]backend{
	"apt": {
		binary: "apt-get",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "=" + version
			}
			return []string{"apt-get", "install", "-y", name}
		},
		uninstall: func(name string) []string { return []string{"apt-get", "remove", "-y", name} },
		update:    func(name string) []string { return []string{"apt-get", "install", "--only-upgrade", "-y", name} },
		search:    func(q string) []string { return []string{"apt-cache", "search", "--names-only", q} },
		parse:     firstField,
		list:      []string{"dpkg-query", "-W", "-f=${Package}\n"},
		version:   func(name string) []string { return []string{"dpkg-query", "-W", "-f=${Version}", name} },
	},
	"dnf": {
		binary: "dnf",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "-" + version
			}
			return []string{"dnf", "install", "-y", name}
		},
		uninstall: func(name string) []string { return []string{"dnf", "remove", "-y", name} },
		update:    func(name string) []string { return []string{"dnf", "upgrade", "-y", name} },
		search:    func(q string) []string { return []string{"dnf", "search", "-q", q} },
		parse:     rpmSearchName,
		list:      rpmList,
		version:   rpmVersion,
	},
	"yum": {
		binary: "yum",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "-" + version
			}
			return []string{"yum", "install", "-y", name}
		},
		uninstall: func(name string) []string { return []string{"yum", "remove", "-y", name} },
		update:    func(name string) []string { return []string{"yum", "upgrade", "-y", name} },
		search:    func(q string) []string { return []string{"yum", "search", "-q", q} },
		parse:     rpmSearchName,
		list:      rpmList,
		version:   rpmVersion,
	},
	"zypper": {
		binary: "zypper",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "=" + version
			}
			return []string{"zypper", "--non-interactive", "install", name}
		},
		uninstall: func(name string) []string { return []string{"zypper", "--non-interactive", "remove", name} },
		update:    func(name string) []string { return []string{"zypper", "--non-interactive", "update", name} },
		search:    func(q string) []string { return []string{"zypper", "--quiet", "search", q} },
		parse:     zypperSearchName,
		list:      rpmList,
		version:   rpmVersion,
	},
	"apk": {
		binary: "apk",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "=" + version
			}
			return []string{"apk", "add", name}
		},
		uninstall: func(name string) []string { return []string{"apk", "del", name} },
		update:    func(name string) []string { return []string{"apk", "upgrade", name} },
		search:    func(q string) []string { return []string{"apk", "search", "-q", q} },
		parse:     firstField,
		list:      []string{"apk", "info"},
	},
	"brew": {
		binary: "brew",
		install: func(name, version string) []string {
			if version != "" {
				name = name + "@" + version
			}
			return []string{"brew", "install", name}
		},
		uninstall: func(name string) []string { return []string{"brew", "uninstall", name} },
		update:    func(name string) []string { return []string{"brew", "upgrade", name} },
		search:    func(q string) []string { return []string{"brew", "search", q} },
		parse:     firstField,
		list:      []string{"brew", "list", "--formula", "-1"},
		version: func(name string) []string {
			return []string{"brew", "list", "--versions", name}
		},
	},
}

// "name.arch : summary", skipping the "=== Name Matched ===" banners.
func rpmSearchName(line string) string {
	if strings.HasPrefix(line, "=") {
		return ""
	}
	name, _, ok := strings.Cut(line, " : ")
	if !ok {
		return ""
	}
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// "S | Name | Summary | Type" table rows.
func zypperSearchName(line string) string {
	cols := strings.Split(line, "|")
	if len(cols) < 3 {
		return ""
	}
	name := strings.TrimSpace(cols[1])
	if name == "Name" || strings.HasPrefix(name, "-") {
		return ""
	}
	return name
}

// Supported returns the package managers this package can drive.
func Supported() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect returns the first package manager found on PATH.
func Detect() (string, error) {
	for _, mgr := range []string{"apt", "dnf", "yum", "zypper", "apk", "brew"} {
		if _, err := exec.LookPath(backends[mgr].binary); err == nil {
			return mgr, nil
		}
	}
	return "", ErrUnavailable
}

// System drives a native package manager through Runner.
type System struct {
	name     string
	backend  backend
	run      Runner
	lookPath func(string) (string, error)
}

// NewSystem creates a manager for name ("apt", "dnf", ...). An empty name
// auto-detects. A nil runner uses ExecRunner.
func NewSystem(name string, run Runner) (*System, error) {
	if name == "" {
		detected, err := Detect()
		if err != nil {
			return nil, err
		}
		name = detected
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unsupported package manager: %s (supported: %s)", name, strings.Join(Supported(), ", "))
	}
	if run == nil {
		run = ExecRunner
	}
	return &System{name: name, backend: b, run: run, lookPath: exec.LookPath}, nil
}

// Open returns a System for name, or Unavailable when none can be found.
func Open(name string) Manager {
	sys, err := NewSystem(name, nil)
	if err != nil {
		return Unavailable{}
	}
	return sys
}

// Name returns the package manager identifier.
func (s *System) Name() string { return s.name }

func (s *System) exec(ctx context.Context, argv []string) ([]byte, error) {
	return s.run(ctx, argv[0], argv[1:]...)
}

// installedVersion returns "" when the package is not installed or the
// backend cannot report versions.
func (s *System) installedVersion(ctx context.Context, name string) string {
	if s.backend.version == nil {
		return ""
	}
	out, err := s.exec(ctx, s.backend.version(name))
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(out))
	// brew prints "name 1.2.3 1.2.2"
	if s.name == "brew" {
		fields := strings.Fields(v)
		if len(fields) >= 2 {
			return fields[1]
		}
		return ""
	}
	return v
}

func (s *System) binaryPath(name string) string {
	p, err := s.lookPath(name)
	if err != nil {
		return ""
	}
	return p
}

// Install installs name, pinned to version when it is non-empty.
func (s *System) Install(ctx context.Context, name, version string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("package name is required")
	}
	if _, err := s.exec(ctx, s.backend.install(name, version)); err != nil {
		return nil, fmt.Errorf("failed to install %s: %w", name, err)
	}
	return &Result{
		Success:     true,
		Message:     fmt.Sprintf("installed %s", name),
		PackageName: name,
		Version:     s.installedVersion(ctx, name),
		Path:        s.binaryPath(name),
	}, nil
}

// Uninstall removes name.
func (s *System) Uninstall(ctx context.Context, name string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("package name is required")
	}
	if _, err := s.exec(ctx, s.backend.uninstall(name)); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return &Result{
		Success:     true,
		Message:     fmt.Sprintf("removed %s", name),
		PackageName: name,
	}, nil
}

// Update upgrades name to the latest available version.
func (s *System) Update(ctx context.Context, name string) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("package name is required")
	}
	if _, err := s.exec(ctx, s.backend.update(name)); err != nil {
		return nil, fmt.Errorf("failed to upgrade %s: %w", name, err)
	}
	return &Result{
		Success:     true,
		Message:     fmt.Sprintf("upgraded %s", name),
		PackageName: name,
		Version:     s.installedVersion(ctx, name),
		Path:        s.binaryPath(name),
	}, nil
}

// Search lists package names matching query.
func (s *System) Search(ctx context.Context, query string) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	out, err := s.exec(ctx, s.backend.search(query))
	if err != nil {
		return nil, fmt.Errorf("failed to search for %s: %w", query, err)
	}
	names := parseLines(out, s.backend.parse)
	return &Result{
		Success:     true,
		Message:     fmt.Sprintf("found %d packages", len(names)),
		PackageName: query,
		List:        names,
	}, nil
}

// List returns installed package names, sorted.
func (s *System) List(ctx context.Context) ([]string, error) {
	out, err := s.exec(ctx, s.backend.list)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	names := parseLines(out, firstField)
	sort.Strings(names)
	return names, nil
}

func parseLines(out []byte, parse func(string) string) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := parse(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
