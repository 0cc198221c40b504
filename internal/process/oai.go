package process

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
)

// OAIWrapperConfig holds the settings for the OpenAI-compatible wrapper
// that proxies to a running llama.cpp server.
type OAIWrapperConfig struct {
	// Interpreter runs the wrapper script.
	Interpreter string

	// Script is the wrapper script path.
	Script string

	// Host and Port are where the wrapper listens.
	Host string
	Port int

	// LlamaHost and LlamaPort address the primary server.
	LlamaHost string
	LlamaPort int

	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// DefaultOAIWrapperConfig returns an OAIWrapperConfig pointing at a server on host:port.
func DefaultOAIWrapperConfig(host string, llamaPort int) *OAIWrapperConfig {
	return &OAIWrapperConfig{
		Interpreter: DefaultPython(),
		Script:      "api_like_OAI.py",
		Host:        host,
		Port:        8089,
		LlamaHost:   host,
		LlamaPort:   llamaPort,
	}
}

// DefaultPython returns the interpreter name used on this platform.
func DefaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// OAIWrapper implements Builder for the OpenAI-compatible wrapper.
type OAIWrapper struct {
	config *OAIWrapperConfig
}

// NewOAIWrapper creates a new builder with the given configuration.
func NewOAIWrapper(cfg *OAIWrapperConfig) *OAIWrapper {
	return &OAIWrapper{config: cfg}
}

// Name returns "oai-wrapper".
func (w *OAIWrapper) Name() string {
	return "oai-wrapper"
}

// Config returns the wrapper configuration.
func (w *OAIWrapper) Config() *OAIWrapperConfig {
	return w.config
}

// Address returns host:port of the wrapper's listener.
func (w *OAIWrapper) Address() string {
	return hostPort(w.config.Host, w.config.Port)
}

// LlamaAPI returns the URL the wrapper forwards to.
func (w *OAIWrapper) LlamaAPI() string {
	return "http://" + hostPort(w.config.LlamaHost, w.config.LlamaPort)
}

// BaseURL returns the URL completion clients should use.
func (w *OAIWrapper) BaseURL() string {
	return "http://" + w.Address()
}

// BuildSpec creates the wrapper command line.
func (w *OAIWrapper) BuildSpec() (Spec, error) {
	if w.config.Script == "" {
		return Spec{}, errors.New("oai-wrapper: script path is required")
	}
	if w.config.Port == w.config.LlamaPort && w.config.Host == w.config.LlamaHost {
		return Spec{}, fmt.Errorf("oai-wrapper: port %d collides with the llama server", w.config.Port)
	}

	args := []string{
		w.config.Script,
		"--host", w.config.Host,
		"--port", strconv.Itoa(w.config.Port),
		"--llama-api", w.LlamaAPI(),
	}
	args = append(args, w.config.ExtraArgs...)

	return NewSpec(w.config.Interpreter, args...)
}
