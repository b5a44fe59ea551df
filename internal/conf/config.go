// config.go: settings struct and functions to load and access the application configuration.
package conf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// LogConfig contains settings for application logging.
type LogConfig struct {
	Enabled bool   // true to enable file logging
	Path    string // path to log file
}

// TelemetrySettings contains settings for the Prometheus metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose metrics over HTTP
	Listen  string // listen address and port of the metrics endpoint
}

// CacheSettings contains settings for the on-disk stream cache.
type CacheSettings struct {
	Enabled   bool   // true to mirror received streams to disk
	Directory string // directory used for cached stream files
	MaxSize   int64  // maximum total size of the disk cache in bytes
}

// StreamSettings contains the low-level streaming engine tunables. The struct
// is populated once at startup and treated as read-only by every component.
type StreamSettings struct {
	BufferCount               int    // number of decode buffers
	BufferSize                int    // size of each decode buffer in bytes
	MaxPacketDescs            int    // maximum number of packet descriptions
	DecodeQueueSize           int    // decoded sample queue size in frames
	HTTPBufferSize            int    // HTTP read buffer size in bytes
	OutputSampleRate          int    // output sample rate in Hz
	OutputChannels            int    // number of output channels
	BounceInterval            int    // rebuffering detection window in seconds
	MaxBounceCount            int    // rebuffering events allowed within the window
	StartupWatchdogPeriod     int    // seconds the stream may take to reach playback
	MaxPrebufferedByteCount   int    // bytes to prebuffer before playback starts
	UserAgent                 string // HTTP user agent for stream requests
	StrictContentTypeChecking bool   // reject streams with non-audio content types
	DefaultContentType        string // assumed content type when the server sends none
	Cache                     CacheSettings
}

// Settings is the top-level application configuration.
type Settings struct {
	Debug bool // true to enable debug logging

	Main struct {
		Name string    // application instance name
		Log  LogConfig // log settings
	}

	Stream    StreamSettings    // streaming engine settings
	Telemetry TelemetrySettings // metrics endpoint settings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the singleton Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	initViper()

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets up viper with defaults and the optional config file.
func initViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths := configDirs()
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &notFound) {
			log.Printf("error reading config file: %v", err)
		}
		// missing config file is fine, defaults apply
	}
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// configDirs returns the directories searched for a config file, in order.
func configDirs() []string {
	dirs := []string{"."}
	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, "audiostream-go"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".audiostream-go"))
	}
	return dirs
}

// Setting returns the singleton Settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
