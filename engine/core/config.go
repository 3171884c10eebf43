package core

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

type LogConfig struct {
	Level string `toml:"level"`
}

type DescriptorConfig struct {
	// Block sizes of the shader-visible heaps a command buffer allocates
	// descriptor tables from. Larger demands get a dedicated heap.
	ViewHeapBlockSize    uint32 `toml:"view_heap_block_size"`
	SamplerHeapBlockSize uint32 `toml:"sampler_heap_block_size"`
	// CPU-only heaps backing render-target and depth-stencil views.
	RTVHeapSize uint32 `toml:"rtv_heap_size"`
	DSVHeapSize uint32 `toml:"dsv_heap_size"`
}

type QueueConfig struct {
	// Maximum number of submissions tracked before Submit blocks on the
	// oldest one.
	InFlightDepth int `toml:"in_flight_depth"`
}

type DebugConfig struct {
	ForceBatchSplit   bool `toml:"force_batch_split"`
	ValidateDescRange bool `toml:"validate_descriptor_ranges"`
}

type Config struct {
	Log         LogConfig        `toml:"log"`
	Descriptors DescriptorConfig `toml:"descriptors"`
	Queue       QueueConfig      `toml:"queue"`
	Debug       DebugConfig      `toml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Descriptors: DescriptorConfig{
			ViewHeapBlockSize:    4096,
			SamplerHeapBlockSize: 2048,
			RTVHeapSize:          256,
			DSVHeapSize:          64,
		},
		Queue: QueueConfig{InFlightDepth: 16},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not
// an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		LogWarn("config file %s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := ParseConfig(data, &cfg); err != nil {
		return DefaultConfig(), Wrap(err, "parsing %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes data into cfg and fills zero fields with defaults.
func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	def := DefaultConfig()
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Descriptors.ViewHeapBlockSize == 0 {
		cfg.Descriptors.ViewHeapBlockSize = def.Descriptors.ViewHeapBlockSize
	}
	if cfg.Descriptors.SamplerHeapBlockSize == 0 {
		cfg.Descriptors.SamplerHeapBlockSize = def.Descriptors.SamplerHeapBlockSize
	}
	if cfg.Descriptors.RTVHeapSize == 0 {
		cfg.Descriptors.RTVHeapSize = def.Descriptors.RTVHeapSize
	}
	if cfg.Descriptors.DSVHeapSize == 0 {
		cfg.Descriptors.DSVHeapSize = def.Descriptors.DSVHeapSize
	}
	if cfg.Queue.InFlightDepth <= 0 {
		cfg.Queue.InFlightDepth = def.Queue.InFlightDepth
	}
	return nil
}

// EncodeConfig renders cfg as TOML.
func EncodeConfig(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ConfigWatcher reloads a config file whenever it is written and hands the
// new value to the registered callback.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Config)

	mutex   sync.RWMutex
	current Config

	done chan struct{}
	wg   sync.WaitGroup
}

// WatchConfig starts watching path. The directory is watched rather than the
// file so that editors replacing the file atomically are handled.
func WatchConfig(path string, initial Config, onChange func(Config)) (*ConfigWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	cw := &ConfigWatcher{
		path:     filepath.Clean(path),
		watcher:  fsWatch,
		onChange: onChange,
		current:  initial,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				cw.reload()
			}
		case e, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogError("%s", e)
		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		LogWarn("config reload failed: %s", err)
		return
	}
	SetLogLevel(cfg.Log.Level)

	cw.mutex.Lock()
	cw.current = cfg
	cw.mutex.Unlock()

	LogInfo("config reloaded from %s", cw.path)
	var ctx EventContext
	ctx.Data.C[0] = cw.path
	EventFire(EVENT_CODE_CONFIG_RELOADED, cw, ctx)
	if cw.onChange != nil {
		cw.onChange(cfg)
	}
}

// Current returns the last successfully loaded configuration.
func (cw *ConfigWatcher) Current() Config {
	cw.mutex.RLock()
	defer cw.mutex.RUnlock()
	return cw.current
}

func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()
	return err
}
