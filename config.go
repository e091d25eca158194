package abctrawl

import (
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the configuration instance the rest of abctrawl should access for
// global configuration values. See TrawlConfig for available members.
//
// This follows the teacher's pattern of a single package-level config var
// populated from a YAML file at startup (dankinder-walker/config.go), rather
// than threading a config struct through every constructor.
var Config TrawlConfig

// ConfigName is the path (relative or absolute) to the config file to read.
var ConfigName = "abctrawl.yaml"

func init() {
	SetDefaultConfig()
	err := readConfig()
	if err != nil {
		if strings.Contains(err.Error(), "no such file or directory") {
			logger().Info("Did not find config file %v, continuing with defaults", ConfigName)
		} else {
			panic(err.Error())
		}
	}
}

// TrawlConfig defines the available global configuration parameters. Values
// are read straight from the YAML config file (abctrawl.yaml by default).
type TrawlConfig struct {
	LogLevel string `yaml:"log_level"`

	DatabasePath string `yaml:"database_path"`

	CooldownSeconds      int     `yaml:"cooldown_seconds"`
	MaxRetries           int     `yaml:"max_retries"`
	InflightTTLSeconds   int     `yaml:"inflight_ttl_seconds"`
	HostTimeoutStreak    int     `yaml:"host_timeout_block_streak"`
	HostReenableHours    float64 `yaml:"host_timeout_reenable_hours"`
	ABCPriorityExtension string  `yaml:"abc_priority_extension"`

	DispatcherPort         int    `yaml:"dispatcher_port"`
	LogScanIntervalSeconds int    `yaml:"log_scan_interval_seconds"`
	LogScanPath            string `yaml:"log_scan_path"`
	LivenessSweepSeconds   int    `yaml:"liveness_sweep_seconds"`
	ClaimCycleFetchLimit   int    `yaml:"claim_cycle_fetch_limit"`

	Worker struct {
		ReconnectBackoffMinMS       int `yaml:"reconnect_backoff_min_ms"`
		ReconnectBackoffMaxMS       int `yaml:"reconnect_backoff_max_ms"`
		IdleBackoffMinMS            int `yaml:"idle_backoff_min_ms"`
		IdleBackoffMaxMS            int `yaml:"idle_backoff_max_ms"`
		FetcherShutdownGraceSeconds int `yaml:"fetcher_shutdown_grace_seconds"`
	} `yaml:"worker"`

	Supervisor struct {
		Port int `yaml:"port"`
	} `yaml:"supervisor"`
}

// SetDefaultConfig resets Config to its default values, regardless of what
// was set by any configuration file. See dankinder-walker/config.go for the
// pattern this follows: yaml.v2 does not zero sequence fields on unmarshal, so
// any slice-valued config key must be nilled out in readConfig before
// unmarshalling and re-defaulted after if still empty. TrawlConfig has no
// slice fields yet, but the precaution is kept for whoever adds the next one.
func SetDefaultConfig() {
	Config = TrawlConfig{}

	Config.LogLevel = "INFO"
	Config.DatabasePath = "abctrawl.db"

	Config.CooldownSeconds = 30
	Config.MaxRetries = 3
	Config.InflightTTLSeconds = 120
	Config.HostTimeoutStreak = 3
	Config.HostReenableHours = 24
	Config.ABCPriorityExtension = ".abc"

	Config.DispatcherPort = 8888
	Config.LogScanIntervalSeconds = 60
	Config.LogScanPath = ""
	Config.LivenessSweepSeconds = 20
	Config.ClaimCycleFetchLimit = 50

	Config.Worker.ReconnectBackoffMinMS = 500
	Config.Worker.ReconnectBackoffMaxMS = 30000
	Config.Worker.IdleBackoffMinMS = 500
	Config.Worker.IdleBackoffMaxMS = 2000
	Config.Worker.FetcherShutdownGraceSeconds = 30

	Config.Supervisor.Port = 3000
}

// ReadConfigFile sets a new path to find the abctrawl YAML config file and
// forces a reload of Config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

func assertConfigInvariants() error {
	var errs []string

	if Config.CooldownSeconds < 0 {
		errs = append(errs, "cooldown_seconds must be >= 0")
	}
	if Config.MaxRetries < 0 {
		errs = append(errs, "max_retries must be >= 0")
	}
	if Config.InflightTTLSeconds < 1 {
		errs = append(errs, "inflight_ttl_seconds must be > 0")
	}
	if Config.HostTimeoutStreak < 1 {
		errs = append(errs, "host_timeout_block_streak must be > 0")
	}
	if Config.DispatcherPort < 1 || Config.DispatcherPort > 65535 {
		errs = append(errs, "dispatcher_port must be a valid TCP port")
	}

	if len(errs) > 0 {
		em := ""
		for _, e := range errs {
			logger().Error("Config Error: %v", e)
			em += "\t" + e + "\n"
		}
		return fmt.Errorf("Config Error:\n%v", em)
	}
	return nil
}

func readConfig() error {
	SetDefaultConfig()

	data, err := ioutil.ReadFile(ConfigName)
	if err != nil {
		return fmt.Errorf("Failed to read config file (%v): %v", ConfigName, err)
	}
	err = yaml.Unmarshal(data, &Config)
	if err != nil {
		return fmt.Errorf("Failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
	}

	err = assertConfigInvariants()
	if err == nil {
		logger().Info("Loaded config file %v", ConfigName)
	}
	return err
}

// Cooldown returns the configured host cooldown as a time.Duration.
func Cooldown() time.Duration {
	return time.Duration(Config.CooldownSeconds) * time.Second
}

// InflightTTL returns the configured liveness-sweep TTL as a time.Duration.
func InflightTTL() time.Duration {
	return time.Duration(Config.InflightTTLSeconds) * time.Second
}

// HostReenableAfter returns the configured timeout-block re-enable window.
func HostReenableAfter() time.Duration {
	return time.Duration(Config.HostReenableHours * float64(time.Hour))
}
