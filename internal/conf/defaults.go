// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/audiostream-go/internal/buildinfo"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "audiostream-go")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "audiostream.log")

	viper.SetDefault("stream.buffercount", 64)
	viper.SetDefault("stream.buffersize", 8192)
	viper.SetDefault("stream.maxpacketdescs", 512)
	viper.SetDefault("stream.decodequeuesize", 128)
	viper.SetDefault("stream.httpbuffersize", 8192)
	viper.SetDefault("stream.outputsamplerate", 44100)
	viper.SetDefault("stream.outputchannels", 2)
	viper.SetDefault("stream.bounceinterval", 10)
	viper.SetDefault("stream.maxbouncecount", 4)
	viper.SetDefault("stream.startupwatchdogperiod", 30)
	viper.SetDefault("stream.maxprebufferedbytecount", 256000)
	viper.SetDefault("stream.useragent", buildinfo.ReleaseVersion())
	viper.SetDefault("stream.strictcontenttypechecking", true)
	viper.SetDefault("stream.defaultcontenttype", "audio/mpeg")

	viper.SetDefault("stream.cache.enabled", false)
	viper.SetDefault("stream.cache.directory", "")
	viper.SetDefault("stream.cache.maxsize", 256*1024*1024)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "localhost:8090")
}
