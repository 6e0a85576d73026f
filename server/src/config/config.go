// Package config parses the server's command-line flags, environment
// variables and an optional TOML file into a single GeneralConfig.
package config

import (
	"encoding/json"
	"log"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jessevdk/go-flags"
)

// GeneralConfig holds everything the server accepts: transport/listener
// settings, values for clients, and the engine tunables below. Of the
// client-facing values, only ProxyEnabled, ProxyURL and
// AvailabilityCheck are forwarded (in room_state); SecretKey, WSURL and
// Production are parsed but not used or forwarded by the server.
type GeneralConfig struct {
	ConfigPath string `long:"config" default:"" env:"CONFIG" description:"path to config file (toml)"`
	Host       string `long:"host" default:"" env:"HOST" description:"host name (e.g. 0.0.0.0). If left empty (= ''), listens on all IPs of the machine"`
	Port       uint16 `long:"port" default:"7766" env:"PORT" description:"port (range from 0 to 65535) to listen on"`
	Cert       string `long:"cert" default:"" env:"CERT" description:"path to TLS certificate file. If none is given, plain TCP is used"`
	Key        string `long:"key" default:"" env:"KEY" description:"path to TLS key corresponding to the TLS certificate. If none is given, plain TCP is used"`
	Debug      bool   `long:"debug" env:"DEBUG" description:"whether to log debugging entries"`

	SecretKey         string `long:"secretkey" default:"" env:"SECRET_KEY" description:"opaque secret; parsed but not interpreted or forwarded by the server"`
	ProxyEnabled      bool   `long:"proxyenabled" env:"PROXY_ENABLED" description:"whether a media reverse proxy is available"`
	ProxyURL          string `long:"proxyurl" default:"" env:"PROXY_URL" description:"base URL of the media reverse proxy, forwarded to clients"`
	WSURL             string `long:"wsurl" default:"" env:"WS_URL" description:"public websocket URL; parsed but not advertised to clients by the server"`
	Production        bool   `long:"production" env:"PRODUCTION" description:"whether the server runs in production mode"`
	AvailabilityCheck bool   `long:"availabilitycheck" env:"AVAILABILITY_CHECK" description:"whether clients should probe stream availability before joining"`

	// Tunables called out as implementation-defined by spec.md §9's Open
	// Question; these are never sent to clients.
	BarrierTimeout   time.Duration `long:"barriertimeout" default:"8s" env:"BARRIER_TIMEOUT" description:"timeout before a seek/resume barrier force-completes"`
	BufferPauseDelay time.Duration `long:"bufferpausedelay" default:"2s" env:"BUFFER_PAUSE_DELAY" description:"grace period before a lingering buffer_start pauses the room"`
	ReaperInterval   time.Duration `long:"reaperinterval" default:"30s" env:"REAPER_INTERVAL" description:"interval at which dead connections are collected"`
	SendTimeout      time.Duration `long:"sendtimeout" default:"800ms" env:"SEND_TIMEOUT" description:"per-connection send timeout"`
}

// Config is the top-level configuration document, matching the shape
// of an optional TOML config file.
type Config struct {
	General GeneralConfig
}

// GetConfig parses command arguments, environment variables and the
// config file in case one is given. Order of precedence is:
// config file < environment variables < command arguments.
func GetConfig() GeneralConfig {
	general := parseCommandArgs()

	config := Config{General: general}
	if general.ConfigPath != "" {
		config = readConfigFile(general.ConfigPath)
		mergeConfigs(general, &config)
	}

	printConfig(config)
	return config.General
}

func parseCommandArgs() GeneralConfig {
	var general GeneralConfig
	parser := flags.NewParser(&general, flags.Default)
	if _, err := parser.Parse(); err != nil {
		log.Fatalf("Failed to parse command line arguments: %s", err)
	}

	return general
}

func readConfigFile(path string) Config {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		log.Fatalf("Failed to load config file. Given: %s. Make sure the correct file format (toml) is used and the file exists.\nError:%s", path, err)
	}

	return config
}

// mergeConfigs overlays the values the user explicitly passed on the
// command line/environment on top of the values read from the config
// file, so flags/env still win over the file.
func mergeConfigs(commandConfig GeneralConfig, fileConfig *Config) {
	enc, err := json.Marshal(commandConfig)
	if err != nil {
		log.Fatalf("Failed to marshal configuration. Error: %s", err)
	}

	if err := json.Unmarshal(enc, &fileConfig.General); err != nil {
		log.Fatalf("Failed to unmarshal configuration. Error: %s", err)
	}
}

func printConfig(config Config) {
	s, _ := json.MarshalIndent(config, "", "\t")
	log.Printf("Configurations successfully set:\n%s", string(s))
}
