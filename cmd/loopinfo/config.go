package main

import (
	"os"
	"runtime"

	"github.com/graphism/natloop/cfg"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config specifies the options of loopinfo.
type Config struct {
	// DOTDir is the output directory of DOT graphs; empty disables DOT output.
	DOTDir string `yaml:"dot_dir"`
	// Funcs restricts the analysis to the named functions; empty analyzes every
	// function.
	Funcs []string `yaml:"funcs"`
	// Jobs is the number of functions analyzed concurrently.
	Jobs int `yaml:"jobs"`
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// loadConfig parses the given YAML configuration file. An empty path returns
// the default configuration.
func loadConfig(path string) (*Config, error) {
	conf := &Config{}
	if len(path) > 0 {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := yaml.Unmarshal(buf, conf); err != nil {
			return nil, errors.Wrapf(err, "unable to parse configuration file %q", path)
		}
	}
	if conf.Jobs <= 0 {
		conf.Jobs = runtime.GOMAXPROCS(0)
	}
	return conf, nil
}

// override sets the option of the given command line flag from flags.
func (conf *Config) override(flagName string, flags *Config) {
	switch flagName {
	case "dot":
		conf.DOTDir = flags.DOTDir
	case "f":
		conf.Funcs = flags.Funcs
	case "j":
		if flags.Jobs > 0 {
			conf.Jobs = flags.Jobs
		}
	case "v":
		conf.Verbose = flags.Verbose
	}
}

// filter returns the control flow graphs of the functions selected by the
// configuration, in input order.
func (conf *Config) filter(gs []*cfg.Graph) []*cfg.Graph {
	if len(conf.Funcs) == 0 {
		return gs
	}
	keep := make(map[string]bool, len(conf.Funcs))
	for _, name := range conf.Funcs {
		keep[name] = true
	}
	var out []*cfg.Graph
	for _, g := range gs {
		if keep[g.DOTID()] {
			out = append(out, g)
		}
	}
	return out
}
