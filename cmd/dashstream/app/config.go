package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/dashstream/engine/pkg/logging"
)

const (
	defaultPort           = 8884
	defaultBufferingGoalS = 10
	defaultRebufferGoalS  = 2
	defaultBufferBehindS  = 30
	defaultAbortThreshold = 16 * 1024
	defaultRetryAttempts  = 3
)

// Config holds the dashstream engine binary's own tunables: which manifest
// to play, the Streaming Engine's buffering goals, and the control API's
// listen port. It is deliberately separate from the manifest/variant
// selection an embedder drives at runtime through the control API.
type Config struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`

	ManifestURL string `json:"manifesturl"`

	BufferingGoalS   float64 `json:"bufferinggoals"`
	RebufferingGoalS float64 `json:"rebufferinggoals"`
	BufferBehindS    float64 `json:"bufferbehinds"`
	AbortThreshold   int     `json:"abortthreshold"`
	RetryAttempts    int     `json:"retryattempts"`

	PreferredLanguage string `json:"language"`
	PreferredRole     string `json:"role"`
}

var DefaultConfig = Config{
	LogFormat:        logging.LogText,
	LogLevel:         "INFO",
	Port:             defaultPort,
	BufferingGoalS:   defaultBufferingGoalS,
	RebufferingGoalS: defaultRebufferGoalS,
	BufferBehindS:    defaultBufferBehindS,
	AbortThreshold:   defaultAbortThreshold,
	RetryAttempts:    defaultRetryAttempts,
}

// LoadConfig loads defaults, an optional JSON config file, command line
// flags, and finally environment variables (DASHSTREAM_*), in that order of
// increasing precedence.
func LoadConfig(args []string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("dashstream", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options] manifestURL:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "control API HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	f.String("loglevel", k.String("loglevel"), "initial log level")
	f.Float64("bufferinggoals", k.Float64("bufferinggoals"), "target seconds of buffer ahead of the playhead")
	f.Float64("rebufferinggoals", k.Float64("rebufferinggoals"), "seconds of buffer required to leave a rebuffering state")
	f.Float64("bufferbehinds", k.Float64("bufferbehinds"), "seconds of already-played buffer retained for seeking back")
	f.Int("abortthreshold", k.Int("abortthreshold"), "bytes remaining on an in-flight fetch below which a variant switch never aborts it")
	f.Int("retryattempts", k.Int("retryattempts"), "max fetch attempts before a segment request fails")
	f.String("language", k.String("language"), "preferred audio/text language (BCP-47)")
	f.String("role", k.String("role"), "preferred DASH role (main, alternate, ...)")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	if err := k.Load(env.Provider("DASHSTREAM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DASHSTREAM_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if len(f.Args()) == 1 {
		if err := k.Load(confmap.Provider(map[string]any{
			"manifesturl": f.Args()[0],
		}, "."), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if cfg.ManifestURL == "" {
		return nil, fmt.Errorf("a manifest URL is required, e.g. %s https://example.com/stream.mpd", path.Base(args[0]))
	}
	return &cfg, nil
}
