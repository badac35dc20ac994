// Package config derives per-instance worker configurations from a shared
// base configuration.
package config

import (
	"fmt"
	"net"
	"strconv"
)

// Device placement targets recognized by the launcher.
const (
	DeviceCPU = "cpu"
)

// Precision modes for artifact placement.
const (
	PrecisionFull    = "full"
	PrecisionReduced = "reduced"
)

// DefaultListenHost is used when the base config leaves ListenHost empty.
const DefaultListenHost = "0.0.0.0"

// MaxWarmupBytes bounds the worker-local memory reservation (64 GiB).
const MaxWarmupBytes int64 = 64 << 30

// BaseConfig is the launch-wide configuration shared by every instance.
// Identity fields are not part of it; Build derives them per ordinal.
type BaseConfig struct {
	// ModelReference names the shared artifact (path, file:// or s3:// URL)
	ModelReference string `mapstructure:"model_reference" yaml:"model_reference"`

	// Device is the placement target (cpu, cuda, cuda:1, ...)
	Device string `mapstructure:"device" yaml:"device"`

	// Precision is full or reduced
	Precision string `mapstructure:"precision_mode" yaml:"precision_mode"`

	// BasePort is the listen port of ordinal 0
	BasePort int `mapstructure:"base_port" yaml:"base_port"`

	// ListenHost is the interface every instance binds to
	ListenHost string `mapstructure:"listen_host" yaml:"listen_host"`

	// CredentialPrefix derives per-instance credential names (prefix1, prefix2, ...)
	CredentialPrefix string `mapstructure:"credential_prefix" yaml:"credential_prefix"`

	// CredentialSet optionally names the credential collection the keys live in
	CredentialSet string `mapstructure:"credential_set" yaml:"credential_set"`

	// WarmupBytes is the size of the worker-local memory reservation (0 disables)
	WarmupBytes int64 `mapstructure:"warmup_bytes" yaml:"warmup_bytes"`

	// VerifyArtifact makes workers check size and digest before serving
	VerifyArtifact bool `mapstructure:"verify_artifact" yaml:"verify_artifact"`

	// Extra holds free-form endpoint server settings
	Extra map[string]string `mapstructure:"extra" yaml:"extra"`
}

// Identity is the unique network identity of one worker.
type Identity struct {
	Ordinal       int    `yaml:"ordinal"`
	CredentialRef string `yaml:"credential_ref"`
	ListenHost    string `yaml:"listen_host"`
	ListenPort    int    `yaml:"listen_port"`
}

// Address returns host:port for the identity.
func (id Identity) Address() string {
	return net.JoinHostPort(id.ListenHost, strconv.Itoa(id.ListenPort))
}

// InstanceConfig is a base config merged with exactly one identity.
type InstanceConfig struct {
	BaseConfig   `yaml:",inline"`
	Identity     Identity `yaml:"identity"`
	InstanceName string   `yaml:"instance_name"`
}

// Clone returns a deep copy of the base config.
func (b BaseConfig) Clone() BaseConfig {
	c := b
	if b.Extra != nil {
		c.Extra = make(map[string]string, len(b.Extra))
		for k, v := range b.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Clone returns a deep copy of the instance config.
func (ic InstanceConfig) Clone() InstanceConfig {
	c := ic
	c.BaseConfig = ic.BaseConfig.Clone()
	return c
}

// WithDefaults fills optional fields that were left empty.
func (b BaseConfig) WithDefaults() BaseConfig {
	c := b.Clone()
	if c.Device == "" {
		c.Device = DeviceCPU
	}
	if c.Precision == "" {
		c.Precision = PrecisionFull
	}
	if c.ListenHost == "" {
		c.ListenHost = DefaultListenHost
	}
	return c
}

// Validate checks the base config for a launch of count instances.
func (b BaseConfig) Validate(count int) error {
	if count < 1 {
		return &ValidationError{Field: "instance_count", Value: count, Reason: "must be at least 1"}
	}
	if b.ModelReference == "" {
		return &ValidationError{Field: "model_reference", Value: b.ModelReference, Reason: "is required"}
	}
	if b.CredentialPrefix == "" {
		return &ValidationError{Field: "credential_prefix", Value: b.CredentialPrefix, Reason: "is required"}
	}
	if b.BasePort < 1 || b.BasePort > 65535 {
		return &ValidationError{Field: "base_port", Value: b.BasePort, Reason: "must be between 1 and 65535"}
	}
	if last := b.BasePort + count - 1; last > 65535 {
		return &ValidationError{
			Field:  "base_port",
			Value:  b.BasePort,
			Reason: fmt.Sprintf("port range %d-%d exceeds 65535", b.BasePort, last),
		}
	}
	switch b.Precision {
	case "", PrecisionFull, PrecisionReduced:
	default:
		return &ValidationError{Field: "precision_mode", Value: b.Precision, Reason: "must be full or reduced"}
	}
	if b.WarmupBytes < 0 {
		return &ValidationError{Field: "warmup_bytes", Value: b.WarmupBytes, Reason: "cannot be negative"}
	}
	if b.WarmupBytes > MaxWarmupBytes {
		return &ValidationError{
			Field:  "warmup_bytes",
			Value:  b.WarmupBytes,
			Reason: fmt.Sprintf("cannot exceed %d", MaxWarmupBytes),
		}
	}
	return nil
}

// Build derives count instance configs from base.
//
// Ordinal i gets CredentialRef = prefix+(i+1), ListenPort = BasePort+i and
// InstanceName = CredentialRef. Each returned config owns its own copy of
// every mutable field.
func Build(base BaseConfig, count int) ([]InstanceConfig, error) {
	if err := base.Validate(count); err != nil {
		return nil, err
	}
	base = base.WithDefaults()

	instances := make([]InstanceConfig, 0, count)
	for i := 0; i < count; i++ {
		credential := base.CredentialPrefix + strconv.Itoa(i+1)
		instances = append(instances, InstanceConfig{
			BaseConfig: base.Clone(),
			Identity: Identity{
				Ordinal:       i,
				CredentialRef: credential,
				ListenHost:    base.ListenHost,
				ListenPort:    base.BasePort + i,
			},
			InstanceName: credential,
		})
	}
	return instances, nil
}
