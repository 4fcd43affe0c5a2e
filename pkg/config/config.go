package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".pdbg"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// DisableASLR controls whether spawned targets run with address
	// space randomization suppressed.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`
	// DisableLazyBinding controls whether spawned targets run with
	// LD_BIND_NOW=1 in their environment.
	DisableLazyBinding *bool `yaml:"disable-lazy-binding,omitempty"`

	// LogFlags is the default comma separated list of log subsystems
	// to enable (same values as the --log-output flag).
	LogFlags string `yaml:"log-output"`

	// EventTimeout is the default timeout, in milliseconds, used when
	// waiting for the next debug event in the interactive session.
	EventTimeout *int `yaml:"event-timeout,omitempty"`

	// RegisterDumpColor is the ANSI foreground color (3/4 bit codes)
	// used for the highlighted prefix of event lines in the interactive
	// session.
	RegisterDumpColor int `yaml:"register-dump-color"`
}

// BoolOrDefault returns *v, or def when v is unset.
func BoolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the pdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Spawned targets run with ASLR suppressed unless disabled here.
# disable-aslr: false

# Spawned targets run with LD_BIND_NOW=1 unless disabled here.
# disable-lazy-binding: false

# Default log subsystems to enable, comma separated.
# log-output: "debugger,events"

# Default timeout in milliseconds for waiting on debug events.
# event-timeout: 5000

# Uncomment the following line and set your preferred ANSI foreground
# color for the prefix of event lines (if unset, default is 34,
# dark blue). See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# register-dump-color: 34
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// The configuration lives under $XDG_CONFIG_HOME/pdbg when that
// variable is set, otherwise under $HOME/.pdbg.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return path.Join(xdg, "pdbg", file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
