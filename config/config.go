/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the replica configuration from a file, HOTSTUFF_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zhigui-projects/hotstuff-consensus/common/crypto"
	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/pacemaker"
	"github.com/zhigui-projects/hotstuff-consensus/transport"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

const EnvPrefix = "HOTSTUFF"

type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Replicas  []ReplicaConfig `mapstructure:"replicas" validate:"required,min=1,dive"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Log       log.Config      `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
}

type NodeConfig struct {
	ID      int64  `mapstructure:"id" validate:"gte=0"`
	DataDir string `mapstructure:"data-dir" validate:"required"`
	// KeyFile holds the PEM encoded ECDSA private key of this replica.
	KeyFile string `mapstructure:"key-file" validate:"required"`
}

type ConsensusConfig struct {
	Timeout         pacemaker.TimeoutConfig `mapstructure:"timeout"`
	ProposalDelay   time.Duration           `mapstructure:"proposal-delay" validate:"gte=0"`
	MaxBatchSize    int                     `mapstructure:"max-batch-size" validate:"gt=0"`
	SubmitQueueSize int                     `mapstructure:"submit-queue-size" validate:"gt=0"`
	VerifyWorkers   int                     `mapstructure:"verify-workers" validate:"gt=0"`
	SigCacheSize    int                     `mapstructure:"sig-cache-size" validate:"gt=0"`
}

type ReplicaConfig struct {
	ID      int64  `mapstructure:"id" validate:"gte=0"`
	Address string `mapstructure:"address" validate:"required,hostname_port"`
	// PublicKey is the path of the PEM encoded public key of the replica.
	PublicKey string `mapstructure:"public-key" validate:"required"`
	// Weight defaults to 1.
	Weight uint64 `mapstructure:"weight"`
}

type TLSConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	CertFile          string   `mapstructure:"cert-file" validate:"required_if=Enabled true"`
	KeyFile           string   `mapstructure:"key-file" validate:"required_if=Enabled true"`
	RootCAs           []string `mapstructure:"root-cas"`
	RequireClientCert bool     `mapstructure:"require-client-cert"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

type TransportConfig struct {
	// PeerRateLimit is the number of messages per second accepted from one replica, 0 disables the limit.
	PeerRateLimit float64 `mapstructure:"peer-rate-limit" validate:"gte=0"`
	PeerBurst     int     `mapstructure:"peer-burst" validate:"gte=0"`
}

// ConfigurationError lists every problem found in a configuration.
type ConfigurationError struct {
	errs *multierror.Error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.errs.Error()
}

func (e *ConfigurationError) Errors() []error {
	return e.errs.Errors
}

func (e *ConfigurationError) Unwrap() error {
	return e.errs
}

// New returns a viper instance with the defaults set and the environment bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	timeout := pacemaker.DefaultTimeoutConfig()
	v.SetDefault("node.id", 0)
	v.SetDefault("node.data-dir", "./data")
	v.SetDefault("node.key-file", "")
	v.SetDefault("consensus.timeout.min-timeout", timeout.MinTimeout)
	v.SetDefault("consensus.timeout.max-timeout", timeout.MaxTimeout)
	v.SetDefault("consensus.timeout.factor", timeout.Factor)
	v.SetDefault("consensus.timeout.happy-path-max-round-failures", timeout.HappyPathMaxRoundFailures)
	v.SetDefault("consensus.timeout.max-rebroadcast-interval", timeout.MaxRebroadcastInterval)
	v.SetDefault("consensus.proposal-delay", 0)
	v.SetDefault("consensus.max-batch-size", 128)
	v.SetDefault("consensus.submit-queue-size", 1024)
	v.SetDefault("consensus.verify-workers", 4)
	v.SetDefault("consensus.sig-cache-size", 4096)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert-file", "")
	v.SetDefault("tls.key-file", "")
	v.SetDefault("tls.require-client-cert", false)
	v.SetDefault("log.backend", "log15")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")
	v.SetDefault("log.errorFile", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9100")
	v.SetDefault("transport.peer-rate-limit", 0)
	v.SetDefault("transport.peer-burst", 256)
	return v
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"replica-id":      "node.id",
	"data-dir":        "node.data-dir",
	"key-file":        "node.key-file",
	"log-level":       "log.level",
	"metrics-address": "metrics.address",
	"tls":             "tls.enabled",
}

// BindFlags lets the flags of flags that are set override the configuration.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	return nil
}

// Load reads file, when not empty, into v and returns the validated configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", file)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	// report fields by their configuration key
	val.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return val
}

// Validate checks every field and the consistency between sections. All
// problems are reported at once in a ConfigurationError.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			result = multierror.Append(result, fieldError(fe))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		result = multierror.Append(result, errors.New("metrics.address: required when metrics are enabled"))
	}

	ids := make(map[int64]struct{}, len(c.Replicas))
	addrs := make(map[string]int64, len(c.Replicas))
	for _, r := range c.Replicas {
		if _, ok := ids[r.ID]; ok {
			result = multierror.Append(result, errors.Errorf("replicas: duplicate replica id %d", r.ID))
		}
		ids[r.ID] = struct{}{}
		if other, ok := addrs[r.Address]; ok && r.Address != "" {
			result = multierror.Append(result, errors.Errorf("replicas: replicas %d and %d share address %s", other, r.ID, r.Address))
		}
		addrs[r.Address] = r.ID
	}
	if _, ok := ids[c.Node.ID]; !ok && len(c.Replicas) > 0 {
		result = multierror.Append(result, errors.Errorf("node.id: replica %d is not in the replica list", c.Node.ID))
	}

	if result.ErrorOrNil() == nil {
		return nil
	}
	return &ConfigurationError{errs: result}
}

func fieldError(fe validator.FieldError) error {
	// drop the root struct name
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed on %s=%s", ns, fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s: failed on %s", ns, fe.Tag())
}

// ValidatorSet reads the public keys of the replicas.
func (c *Config) ValidatorSet() (*types.ValidatorSet, error) {
	vals := make([]*types.Validator, 0, len(c.Replicas))
	for _, r := range c.Replicas {
		raw, err := os.ReadFile(r.PublicKey)
		if err != nil {
			return nil, errors.Wrapf(err, "read public key of replica %d", r.ID)
		}
		if _, err := crypto.ParsePublicKey(raw); err != nil {
			return nil, errors.WithMessagef(err, "public key of replica %d", r.ID)
		}
		weight := r.Weight
		if weight == 0 {
			weight = 1
		}
		vals = append(vals, &types.Validator{ID: types.ReplicaID(r.ID), Weight: weight, PublicKey: raw})
	}
	return types.NewValidatorSet(vals)
}

// Signer reads the private key of this replica.
func (c *Config) Signer() (*crypto.ECDSASigner, error) {
	raw, err := os.ReadFile(c.Node.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "read replica key")
	}
	key, err := crypto.ParseECDSAPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return &crypto.ECDSASigner{Pri: key}, nil
}

// TLSOptions loads the TLS material, nil when TLS is disabled.
func (c *Config) TLSOptions() (*transport.TLSOptions, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	opts := &transport.TLSOptions{UseTLS: true, RequireClientCert: c.TLS.RequireClientCert}
	var err error
	if opts.Certificate, err = os.ReadFile(c.TLS.CertFile); err != nil {
		return nil, errors.Wrap(err, "read tls certificate")
	}
	if opts.Key, err = os.ReadFile(c.TLS.KeyFile); err != nil {
		return nil, errors.Wrap(err, "read tls key")
	}
	for _, file := range c.TLS.RootCAs {
		ca, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "read root ca %s", file)
		}
		opts.ServerRootCAs = append(opts.ServerRootCAs, ca)
		opts.ClientRootCAs = append(opts.ClientRootCAs, ca)
	}
	return opts, nil
}
