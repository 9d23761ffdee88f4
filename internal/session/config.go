package session

import (
	"time"

	"github.com/tidwall/gjson"
)

// DefaultConnectTimeout is applied when the launch request names none.
const DefaultConnectTimeout = 10 * time.Second

// LaunchConfig is the configuration surface of one debug session.
type LaunchConfig struct {
	// Host is the logical host alias to resolve and connect to.
	Host string
	// Hostname, Port, Username, and KeyFile override the resolved entry.
	Hostname string
	Port     int
	Username string
	KeyFile  string

	// Program is the remote path of the target binary.
	Program string
	// CoreDump optionally names a core file to analyze instead of running.
	CoreDump string
	// Args are target process arguments.
	Args []string
	// Env is applied to the target environment before launch.
	Env map[string]string
	// WorkDir is the target working directory.
	WorkDir string
	// GDBPath is the remote debugger binary; defaults to "gdb".
	GDBPath string
	// SetupCommands run in order after the debugger is ready. A failing
	// setup command is logged but never fatal to startup.
	SetupCommands []string
	// StopAtEntry halts the target at its entry point on launch.
	StopAtEntry bool
	// Verbose enables per-session diagnostic output.
	Verbose bool
	// ConnectTimeout bounds transport connection establishment.
	ConnectTimeout time.Duration
}

// ParseLaunchConfig decodes a JSON launch request.
func ParseLaunchConfig(data []byte) (LaunchConfig, error) {
	if !gjson.ValidBytes(data) {
		return LaunchConfig{}, ErrNoProgram
	}
	doc := gjson.ParseBytes(data)

	cfg := LaunchConfig{
		Host:        doc.Get("host").String(),
		Hostname:    doc.Get("hostname").String(),
		Port:        int(doc.Get("port").Int()),
		Username:    doc.Get("username").String(),
		KeyFile:     doc.Get("keyFile").String(),
		Program:     doc.Get("program").String(),
		CoreDump:    doc.Get("coreDump").String(),
		WorkDir:     doc.Get("cwd").String(),
		GDBPath:     doc.Get("gdbPath").String(),
		StopAtEntry: doc.Get("stopAtEntry").Bool(),
		Verbose:     doc.Get("verbose").Bool(),
	}
	for _, a := range doc.Get("args").Array() {
		cfg.Args = append(cfg.Args, a.String())
	}
	if env := doc.Get("env"); env.IsObject() {
		cfg.Env = make(map[string]string)
		env.ForEach(func(key, value gjson.Result) bool {
			cfg.Env[key.String()] = value.String()
			return true
		})
	}
	for _, c := range doc.Get("setupCommands").Array() {
		cfg.SetupCommands = append(cfg.SetupCommands, c.String())
	}
	if ms := doc.Get("connectTimeoutMs").Int(); ms > 0 {
		cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}

	cfg.applyDefaults()
	if cfg.Program == "" {
		return LaunchConfig{}, ErrNoProgram
	}
	return cfg, nil
}

func (c *LaunchConfig) applyDefaults() {
	if c.GDBPath == "" {
		c.GDBPath = "gdb"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}
