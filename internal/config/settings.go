package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// settingsDirName is the directory under the user config dir.
const settingsDirName = "go-llama-supervisor"

// Settings are the launch options remembered between runs.
type Settings struct {
	ModelPath    string `toml:"model_path"`
	GPULayers    int    `toml:"gpu_layers"`
	Threads      int    `toml:"threads"`
	CtxSize      int    `toml:"ctx_size"`
	BatchSize    int    `toml:"batch_size"`
	MLock        bool   `toml:"mlock"`
	LowVRAM      bool   `toml:"low_vram"`
	LoraPath     string `toml:"lora_path"`
	LoraBasePath string `toml:"lora_base_path"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	OAIEnabled   bool   `toml:"oai_enabled"`
	OAIPort      int    `toml:"oai_port"`
}

// DefaultSettingsPath returns settings.toml under the user config directory
// ($XDG_CONFIG_HOME or ~/.config on Unix, %AppData% on Windows).
func DefaultSettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, settingsDirName, "settings.toml"), nil
}

// LoadSettings reads settings from path. A missing file returns
// (nil, nil); a file that exists but does not parse is an error.
func LoadSettings(path string) (*Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return &s, nil
}

// SaveSettings writes settings to path, creating the directory if needed.
// The file is replaced atomically.
func SaveSettings(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	fmt.Fprintln(tmp, "# go-llama-supervisor settings, saved after each successful start")
	if err := toml.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// SettingsFromConfig extracts the persisted subset of cfg.
func SettingsFromConfig(cfg *Config) *Settings {
	return &Settings{
		ModelPath:    cfg.ModelPath,
		GPULayers:    cfg.GPULayers,
		Threads:      cfg.Threads,
		CtxSize:      cfg.CtxSize,
		BatchSize:    cfg.BatchSize,
		MLock:        cfg.MLock,
		LowVRAM:      cfg.LowVRAM,
		LoraPath:     cfg.LoraPath,
		LoraBasePath: cfg.LoraBasePath,
		Host:         cfg.Host,
		Port:         cfg.Port,
		OAIEnabled:   cfg.OAIEnabled,
		OAIPort:      cfg.OAIPort,
	}
}

// ApplyTo copies stored values into cfg, except for the flags named in
// explicit (set on the command line) and zero numbers/strings, which
// leave the default in place.
func (s *Settings) ApplyTo(cfg *Config, explicit map[string]bool) {
	if s == nil {
		return
	}

	setString := func(flagName string, dst *string, v string) {
		if !explicit[flagName] && v != "" {
			*dst = v
		}
	}
	setInt := func(flagName string, dst *int, v int, allowZero bool) {
		if !explicit[flagName] && (v > 0 || (allowZero && v == 0)) {
			*dst = v
		}
	}
	setBool := func(flagName string, dst *bool, v bool) {
		if !explicit[flagName] {
			*dst = v
		}
	}

	setString("model", &cfg.ModelPath, s.ModelPath)
	setInt("ngl", &cfg.GPULayers, s.GPULayers, true)
	setInt("threads", &cfg.Threads, s.Threads, false)
	setInt("ctx-size", &cfg.CtxSize, s.CtxSize, false)
	setInt("batch-size", &cfg.BatchSize, s.BatchSize, false)
	setBool("mlock", &cfg.MLock, s.MLock)
	setBool("low-vram", &cfg.LowVRAM, s.LowVRAM)
	setString("lora", &cfg.LoraPath, s.LoraPath)
	setString("lora-base", &cfg.LoraBasePath, s.LoraBasePath)
	setString("host", &cfg.Host, s.Host)
	setInt("port", &cfg.Port, s.Port, false)
	setBool("oai", &cfg.OAIEnabled, s.OAIEnabled)
	setInt("oai-port", &cfg.OAIPort, s.OAIPort, false)
}
