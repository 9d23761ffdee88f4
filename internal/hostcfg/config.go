// Package hostcfg resolves logical host aliases to concrete connection
// credentials and carries the local/remote path mapping table. Configuration
// is TOML; the file may be absent, in which case everything falls back to
// defaults and overrides.
package hostcfg

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/remotedbg/internal/pathmap"
	"github.com/dshills/remotedbg/internal/remote"
)

// FileSystem abstracts file access so tests can inject fakes.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (os.FileInfo, error)
}

type osFS struct{}

func (osFS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }
func (osFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

// DefaultFS returns the real file system.
func DefaultFS() FileSystem { return osFS{} }

// Host is one alias entry in the configuration file.
type Host struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	KeyFile  string `toml:"key_file"`
}

// PathRule pairs a local source prefix with its remote counterpart.
type PathRule struct {
	Local  string `toml:"local"`
	Remote string `toml:"remote"`
}

// Config is the parsed host configuration file.
type Config struct {
	Hosts map[string]Host `toml:"hosts"`
	Paths []PathRule      `toml:"paths"`
}

// Overrides carries per-launch values that take precedence over the host
// table entry. Zero values mean "no override".
type Overrides struct {
	Hostname string
	Port     int
	Username string
	KeyFile  string
}

// Resolver turns aliases into dialable host details.
type Resolver struct {
	fs  FileSystem
	cfg *Config
}

// NewResolver creates a resolver over a parsed configuration. A nil config is
// treated as empty.
func NewResolver(cfg *Config) *Resolver {
	return NewResolverWithFS(DefaultFS(), cfg)
}

// NewResolverWithFS creates a resolver with a custom file system.
func NewResolverWithFS(fs FileSystem, cfg *Config) *Resolver {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Resolver{fs: fs, cfg: cfg}
}

// Load reads and parses the configuration file. A missing file is not an
// error; it yields an empty configuration.
func Load(path string) (*Config, error) {
	return LoadWithFS(DefaultFS(), path)
}

// LoadWithFS reads the configuration through a custom file system.
func LoadWithFS(fs FileSystem, path string) (*Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes TOML configuration data.
func Parse(source string, data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: source, Err: err}
	}
	return &cfg, nil
}

// Mapper builds the path translation table from the configured rules.
func (c *Config) Mapper() *pathmap.Mapper {
	rules := make([]pathmap.Rule, 0, len(c.Paths))
	for _, p := range c.Paths {
		rules = append(rules, pathmap.Rule{Local: p.Local, Remote: p.Remote})
	}
	return pathmap.New(rules)
}

// Resolve maps an alias plus optional overrides to concrete host details.
// Precedence per field: override, then host table entry, then default
// (port 22, the current local user, the first usable default SSH key).
func (r *Resolver) Resolve(alias string, ov Overrides) (remote.HostDetails, error) {
	entry, known := r.cfg.Hosts[alias]
	if !known && ov.Hostname == "" {
		return remote.HostDetails{}, ErrHostNotFound
	}

	d := remote.HostDetails{
		Hostname:       pick(ov.Hostname, entry.Hostname),
		Port:           pickInt(ov.Port, entry.Port, 22),
		Username:       pick(ov.Username, entry.Username),
		PrivateKeyPath: pick(ov.KeyFile, entry.KeyFile),
	}
	if d.Hostname == "" {
		// An alias with no hostname entry dials the alias itself.
		d.Hostname = alias
	}
	if d.Hostname == "" {
		return remote.HostDetails{}, ErrNoHostname
	}
	if d.Username == "" {
		d.Username = currentUser()
	}
	if d.PrivateKeyPath == "" {
		d.PrivateKeyPath = r.defaultKey()
	}
	return d, nil
}

// defaultKey probes the conventional SSH key locations, preferring ed25519.
func (r *Resolver) defaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := r.fs.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
