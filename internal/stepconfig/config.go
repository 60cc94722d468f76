// Package stepconfig loads the configuration persisted by the init step.
package stepconfig

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	gh "scanstep/internal/github"
)

// FileName is the name of the persisted config inside the runner temp dir.
const FileName = "config"

// Config is the subset of the init step's parsed configuration that the
// analysis step consumes.
type Config struct {
	Languages     []string   `mapstructure:"languages"`
	TempDir       string     `mapstructure:"tempDir"`
	ToolCacheDir  string     `mapstructure:"toolCacheDir"`
	CodeQLCmd     string     `mapstructure:"codeQLCmd"`
	DBLocation    string     `mapstructure:"dbLocation"`
	GitHubVersion gh.Version `mapstructure:"gitHubVersion"`
	DebugMode     bool       `mapstructure:"debugMode"`

	// Queries maps a language to extra query packs/suites to run alongside
	// the default suite.
	Queries map[string][]string `mapstructure:"queries"`
}

// Path returns the location of the persisted config for tempDir.
func Path(tempDir string) string {
	return filepath.Join(tempDir, FileName)
}

// Loader reads the persisted config.
type Loader struct{}

// GetConfig returns (nil, nil) when no config was persisted: the init step
// never ran. A present but unreadable file is an error.
func (Loader) GetConfig(tempDir string) (*Config, error) {
	path := Path(tempDir)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "stat config %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = tempDir
	}
	if cfg.DBLocation == "" {
		cfg.DBLocation = filepath.Join(cfg.TempDir, "codeql_databases")
	}
	if cfg.CodeQLCmd == "" {
		cfg.CodeQLCmd = "codeql"
	}
	if len(cfg.Languages) == 0 {
		return nil, errors.Newf("config %s lists no languages", path)
	}
	sort.Strings(cfg.Languages)
	return &cfg, nil
}

// DatabasePath is where the engine keeps the database for language.
func (c *Config) DatabasePath(language string) string {
	return filepath.Join(c.DBLocation, language)
}

// DatabaseLocations maps every configured language to its database path.
func (c *Config) DatabaseLocations() map[string]string {
	out := make(map[string]string, len(c.Languages))
	for _, lang := range c.Languages {
		out[lang] = c.DatabasePath(lang)
	}
	return out
}

// Variant returns the recorded host variant, falling back to detection from
// the server URL.
func (c *Config) Variant(serverURL string) gh.Variant {
	if v := gh.ParseVariant(string(c.GitHubVersion.Type)); v != "" {
		return v
	}
	return gh.DetectVariant(serverURL)
}
