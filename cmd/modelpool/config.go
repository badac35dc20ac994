package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jrepp/prism-modelpool/pkg/launcher"
)

// EnvPrefix prefixes every environment override (MODELPOOL_BASE_PORT, ...)
const EnvPrefix = "MODELPOOL"

// loadConfig layers defaults, the optional config file, environment
// variables and bound flags into a launcher configuration.
func loadConfig(v *viper.Viper, path string) (*launcher.Config, error) {
	cfg := launcher.DefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, cfg *launcher.Config) {
	v.SetDefault("instance_count", cfg.InstanceCount)
	v.SetDefault("model_reference", cfg.Base.ModelReference)
	v.SetDefault("device", cfg.Base.Device)
	v.SetDefault("precision_mode", cfg.Base.Precision)
	v.SetDefault("base_port", cfg.Base.BasePort)
	v.SetDefault("listen_host", cfg.Base.ListenHost)
	v.SetDefault("credential_prefix", cfg.Base.CredentialPrefix)
	v.SetDefault("credential_set", cfg.Base.CredentialSet)
	v.SetDefault("warmup_bytes", cfg.Base.WarmupBytes)
	v.SetDefault("verify_artifact", cfg.Base.VerifyArtifact)

	v.SetDefault("handoff_timeout", cfg.HandoffTimeout)
	v.SetDefault("readiness_timeout", cfg.ReadinessTimeout)
	v.SetDefault("grace_period", cfg.GracePeriod)
	v.SetDefault("spawn_rate", cfg.SpawnRate)
	v.SetDefault("worker_executable", cfg.WorkerExecutable)
	v.SetDefault("skip_compatibility_check", cfg.SkipCompatibilityCheck)
	v.SetDefault("artifact_cache_dir", cfg.ArtifactCacheDir)

	v.SetDefault("s3.endpoint", cfg.S3.Endpoint)
	v.SetDefault("s3.region", cfg.S3.Region)
	v.SetDefault("s3.access_key_id", cfg.S3.AccessKeyID)
	v.SetDefault("s3.secret_access_key", cfg.S3.SecretAccessKey)
	v.SetDefault("s3.use_ssl", cfg.S3.UseSSL)
	v.SetDefault("s3.force_path_style", cfg.S3.ForcePathStyle)

	v.SetDefault("events.backend", cfg.Events.Backend)
	v.SetDefault("events.nats.url", cfg.Events.NATS.URL)
	v.SetDefault("events.nats.subject_prefix", cfg.Events.NATS.SubjectPrefix)
	v.SetDefault("events.nats.timeout", cfg.Events.NATS.Timeout)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.redis.address", cfg.Store.Redis.Address)
	v.SetDefault("store.redis.password", cfg.Store.Redis.Password)
	v.SetDefault("store.redis.db", cfg.Store.Redis.DB)
	v.SetDefault("store.redis.ttl", cfg.Store.Redis.TTL)
	v.SetDefault("store.redis.history", cfg.Store.Redis.History)
}
