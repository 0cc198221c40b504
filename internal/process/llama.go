package process

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
)

// LlamaServerConfig holds the settings used to launch the llama.cpp HTTP server.
type LlamaServerConfig struct {
	// BinaryPath is the path to the server binary.
	BinaryPath string

	// ModelPath is the GGML/GGUF model file.
	ModelPath string

	// GPULayers is the number of layers offloaded to the GPU.
	GPULayers int

	// Threads is the number of CPU threads.
	Threads int

	// CtxSize is the prompt context size in tokens.
	CtxSize int

	// BatchSize is the prompt processing batch size.
	BatchSize int

	// Host and Port are where the server listens.
	Host string
	Port int

	// MLock keeps the model resident in RAM.
	MLock bool

	// LowVRAM avoids allocating the VRAM scratch buffer.
	LowVRAM bool

	// LoraPath applies a LoRA adapter. LoraBasePath is only passed with it.
	LoraPath     string
	LoraBasePath string

	// PublicPath is the static web UI directory ("" omits --path).
	PublicPath string

	// Metrics enables the server's Prometheus /metrics endpoint.
	Metrics bool

	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// DefaultLlamaServerConfig returns a LlamaServerConfig with sensible defaults.
func DefaultLlamaServerConfig(modelPath string) *LlamaServerConfig {
	return &LlamaServerConfig{
		BinaryPath: DefaultServerBinary(),
		ModelPath:  modelPath,
		GPULayers:  0,
		Threads:    runtime.NumCPU(),
		CtxSize:    2048,
		BatchSize:  512,
		Host:       "localhost",
		Port:       8080,
		PublicPath: "./public",
	}
}

// DefaultServerBinary returns the server binary name next to the working directory.
func DefaultServerBinary() string {
	if runtime.GOOS == "windows" {
		return "server.exe"
	}
	return "./server"
}

// LlamaServer implements Builder for the llama.cpp server.
type LlamaServer struct {
	config *LlamaServerConfig
}

// NewLlamaServer creates a new builder with the given configuration.
func NewLlamaServer(cfg *LlamaServerConfig) *LlamaServer {
	return &LlamaServer{config: cfg}
}

// Name returns "llama-server".
func (l *LlamaServer) Name() string {
	return "llama-server"
}

// Config returns the server configuration.
func (l *LlamaServer) Config() *LlamaServerConfig {
	return l.config
}

// Address returns host:port of the server's listener.
func (l *LlamaServer) Address() string {
	return hostPort(l.config.Host, l.config.Port)
}

// BuildSpec creates the server command line.
func (l *LlamaServer) BuildSpec() (Spec, error) {
	if l.config.ModelPath == "" {
		return Spec{}, errors.New("llama-server: model path is required")
	}
	return NewSpec(l.config.BinaryPath, l.buildArgs()...)
}

// buildArgs constructs the server command-line arguments.
func (l *LlamaServer) buildArgs() []string {
	c := l.config
	args := []string{
		"--model", c.ModelPath,
		"--n-gpu-layers", strconv.Itoa(c.GPULayers),
		"--threads", strconv.Itoa(c.Threads),
		"--ctx-size", strconv.Itoa(c.CtxSize),
		"--batch-size", strconv.Itoa(c.BatchSize),
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
	}

	if c.MLock {
		args = append(args, "--mlock")
	}
	if c.LowVRAM {
		args = append(args, "--low-vram")
	}

	// The base model only makes sense alongside an adapter
	if c.LoraPath != "" {
		args = append(args, "--lora", c.LoraPath)
		if c.LoraBasePath != "" {
			args = append(args, "--lora-base", c.LoraBasePath)
		}
	}

	if c.PublicPath != "" {
		args = append(args, "--path", c.PublicPath)
	}
	if c.Metrics {
		args = append(args, "--metrics")
	}

	return append(args, c.ExtraArgs...)
}

// CommandString returns the command that would be executed (for debugging).
func (l *LlamaServer) CommandString() string {
	spec, err := l.BuildSpec()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return spec.String()
}

func hostPort(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
