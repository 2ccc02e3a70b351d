package signaling

import (
	"context"
	"crypto/x509"
	"os"
	"time"

	"github.com/kvs-signaling/core/internal/config"
	"github.com/kvs-signaling/core/internal/model"
)

// LoadConfigFile reads the YAML bootstrap config at cfgFile (or the
// platform default location if cfgFile is empty), overlays KVSSIG_-prefixed
// environment variables, and runs tiered validation, via
// internal/config's spf13/viper loader (spec §1 ambient stack). Callers
// that want to tune an Options value from a deployed config file should
// use WithConfigFile or CreateFromConfigFile instead of calling this
// directly.
func LoadConfigFile(cfgFile string) (*config.Config, error) {
	return config.Load(cfgFile)
}

// WithConfigFile overlays the tunables loaded from cfgFile onto o: region
// (if set), retry policy, session/queue limits, reconnect/cache/async-ICE
// flags, message TTL, and (if set) a PEM CA bundle. Channel name/ARN,
// credentials, and
// callback fields already set on o are left untouched, so an embedding
// application keeps those in code and tunes the rest from a YAML file
// (this is the façade's entry point to internal/config, per spec §1).
func (o Options) WithConfigFile(cfgFile string) (Options, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return o, err
	}
	return o.applyConfig(cfg)
}

func (o Options) applyConfig(cfg *config.Config) (Options, error) {
	if cfg.Region != "" {
		o.Region = cfg.Region
	}
	o.Retry = cfg.Retry
	o.MaxRetryCount = cfg.MaxRetryCount
	o.Reconnect = cfg.Reconnect
	o.CachePolicy = cfg.CachePolicy
	o.AsyncIce = cfg.AsyncIce
	o.MaxSessions = cfg.MaxSessions
	o.RestRetryAttempts = cfg.RestRetryAttempts
	o.RestRetryDelayMs = cfg.RestRetryDelayMs
	o.MessageTTL = time.Duration(cfg.MessageTTLSeconds) * time.Second
	o.PendingQueueExpiry = time.Duration(cfg.PendingQueueExpirySeconds) * time.Second
	o.SessionCleanupWait = time.Duration(cfg.SessionCleanupWaitSeconds) * time.Second

	if cfg.CABundlePath != "" {
		pool, err := loadCAPool(cfg.CABundlePath)
		if err != nil {
			return o, err
		}
		o.CAPool = pool
	}
	return o, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapError(model.ErrInvalidArg, "failed to read CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, model.NewError(model.ErrInvalidArg, "CA bundle contains no usable certificates")
	}
	return pool, nil
}

// CreateFromConfigFile loads tunables from cfgFile and merges them into
// base before calling Create, so an embedder can keep channel identity,
// credentials, and callbacks in code while tuning retry/queue/reconnect
// behavior from a deployed YAML config (spec §1 ambient stack: config
// loading is optional, layered on top of the programmatic Options path).
func CreateFromConfigFile(ctx context.Context, cfgFile string, base Options) (*Client, error) {
	merged, err := base.WithConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}
	return Create(ctx, merged)
}
