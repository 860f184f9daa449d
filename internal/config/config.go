package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskbench/internal/appdirs"
	"taskbench/internal/errinfo"
)

// Config is the full runtime configuration, loaded from an optional YAML
// file and overridable through TASKBENCH_* environment variables.
type Config struct {
	Planner  PlannerConfig  `mapstructure:"planner"`
	Run      RunConfig      `mapstructure:"run"`
	Editor   EditorConfig   `mapstructure:"editor"`
	Shell    ShellConfig    `mapstructure:"shell"`
	Database DatabaseConfig `mapstructure:"database"`
	Diagram  DiagramConfig  `mapstructure:"diagram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type PlannerConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Retries   int    `mapstructure:"retries"`
}

type RunConfig struct {
	MaxTurns int  `mapstructure:"max_turns"`
	SafeMode bool `mapstructure:"safe_mode"`
	NoExec   bool `mapstructure:"no_exec"`
}

type EditorConfig struct {
	WorkingRoot string `mapstructure:"working_root"`
}

type ShellConfig struct {
	WorkingRoot    string        `mapstructure:"working_root"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

type DatabaseConfig struct {
	// DSN selects Postgres; empty means the SQLite file under Path.
	DSN              string        `mapstructure:"dsn"`
	Path             string        `mapstructure:"path"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MaxRows          int           `mapstructure:"max_rows"`
}

type DiagramConfig struct {
	Dir    string `mapstructure:"dir"`
	Render bool   `mapstructure:"render"`
}

type LoggingConfig struct {
	Dir   string `mapstructure:"dir"`
	Debug bool   `mapstructure:"debug"`
}

// Load reads configuration, layering defaults, the YAML file if present,
// and TASKBENCH_* environment variables.
func Load(path string) (Config, error) {
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return Config{}, errinfo.FatalConfiguration("resolving data directory: " + err.Error())
	}
	// ExperimentalBindStruct matches viper v1.21 default behavior: env vars
	// bind to struct fields during Unmarshal even without SetDefault.
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	setDefaults(v, dataDir)
	v.SetEnvPrefix("TASKBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errinfo.FatalConfiguration("reading config: " + err.Error())
		}
	} else {
		v.SetConfigName("taskbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errinfo.FatalConfiguration("reading config: " + err.Error())
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errinfo.FatalConfiguration("decoding config: " + err.Error())
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	workspace := appdirs.WorkspaceDir(dataDir)
	v.SetDefault("planner.model", "claude-sonnet-4-20250514")
	v.SetDefault("planner.max_tokens", 4096)
	v.SetDefault("planner.retries", 2)
	v.SetDefault("run.max_turns", 30)
	v.SetDefault("run.safe_mode", false)
	v.SetDefault("run.no_exec", false)
	v.SetDefault("editor.working_root", workspace)
	v.SetDefault("shell.working_root", workspace)
	v.SetDefault("shell.timeout", time.Minute)
	v.SetDefault("shell.max_output_bytes", 64*1024)
	v.SetDefault("database.path", filepath.Join(workspace, "taskbench.db"))
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.max_rows", 200)
	v.SetDefault("diagram.dir", appdirs.DiagramDir(dataDir))
	v.SetDefault("diagram.render", true)
	v.SetDefault("logging.dir", appdirs.SessionLogDir(dataDir))
	v.SetDefault("logging.debug", false)
}

// APIKey returns the planner credential. Required unless the run is in
// mock mode.
func APIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return "", errinfo.FatalConfiguration("ANTHROPIC_API_KEY is not set")
	}
	return key, nil
}
