package jsonrpc2ws

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileConfig is the operator-tunable subset of ServerConfig: the parts a
// deployment typically wants to change without a rebuild — address,
// heartbeat cadence, rate limiting, and the JSON-RPC version-check mode —
// loaded from YAML. Of these, only the rate-limit section is re-applied by
// ConfigWatcher when the file changes.
type FileConfig struct {
	Addr         string        `yaml:"addr"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	VersionMode  string        `yaml:"version_mode"` // "strict", "loose", or "ignore"
	RateLimit    FileRateLimit `yaml:"rate_limit"`
}

// FileRateLimit mirrors RateLimitConfig in YAML-friendly form.
type FileRateLimit struct {
	Enabled           bool    `yaml:"enabled"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoadFileConfig reads and parses a YAML document at path.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc2ws: read config %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("jsonrpc2ws: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseVersionMode maps a config file's string value to a VersionMode,
// defaulting to VersionStrict for an empty or unrecognized value.
func ParseVersionMode(s string) VersionMode {
	switch s {
	case "loose":
		return VersionLoose
	case "ignore":
		return VersionIgnore
	default:
		return VersionStrict
	}
}

// ConfigWatcher watches a config file for changes and invokes apply with
// the freshly parsed rate-limit section whenever it changes on disk.
// Wiring changes apply to newly accepted sessions; sessions already
// connected keep the limiter they were handed at accept time.
type ConfigWatcher struct {
	path    string
	apply   func(FileRateLimit)
	fsw     *fsnotify.Watcher
	done    chan struct{}
	debounce *time.Timer
}

// WatchConfig starts watching path and returns a handle whose Stop method
// tears the watch down. apply is invoked once immediately with the
// current contents, then again after every debounced write.
func WatchConfig(path string, apply func(FileRateLimit)) (*ConfigWatcher, error) {
	cfg, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("jsonrpc2ws: create config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("jsonrpc2ws: watch config %s: %w", path, err)
	}

	w := &ConfigWatcher{path: path, apply: apply, fsw: fsw, done: make(chan struct{})}
	apply(cfg.RateLimit)
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// scheduleReload debounces rapid successive writes — editors frequently
// emit several events for one save.
func (w *ConfigWatcher) scheduleReload() {
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(100*time.Millisecond, func() {
		cfg, err := LoadFileConfig(w.path)
		if err != nil {
			return
		}
		w.apply(cfg.RateLimit)
	})
}

// Stop ends the watch loop and releases the underlying fsnotify watcher.
func (w *ConfigWatcher) Stop() {
	close(w.done)
	w.fsw.Close()
}
