package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/common/crypto"
	"github.com/zhigui-projects/hotstuff-consensus/pacemaker"
)

// writeCluster writes the keys of n replicas and a config file for replica 0.
func writeCluster(t *testing.T, n int, extra string) string {
	dir := t.TempDir()
	cfg := fmt.Sprintf("node:\n  id: 0\n  data-dir: %s\n  key-file: %s\nreplicas:\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "replica0.key"))
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		priv, err := crypto.MarshalPrivateKey(key)
		require.NoError(t, err)
		pub, err := crypto.MarshalPublicKey(&key.PublicKey)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("replica%d.key", i)), priv, 0600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("replica%d.pub", i)), pub, 0644))
		cfg += fmt.Sprintf("  - id: %d\n    address: 127.0.0.1:%d\n    public-key: %s\n",
			i, 8000+i, filepath.Join(dir, fmt.Sprintf("replica%d.pub", i)))
	}
	file := filepath.Join(dir, "hotstuff.yaml")
	require.NoError(t, os.WriteFile(file, []byte(cfg+extra), 0644))
	return file
}

func TestLoad(t *testing.T) {
	file := writeCluster(t, 4, "consensus:\n  timeout:\n    min-timeout: 500ms\n  max-batch-size: 16\n")

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.Node.ID)
	assert.Len(t, cfg.Replicas, 4)
	assert.Equal(t, 500*time.Millisecond, cfg.Consensus.Timeout.MinTimeout)
	assert.Equal(t, 30*time.Second, cfg.Consensus.Timeout.MaxTimeout)
	assert.Equal(t, 16, cfg.Consensus.MaxBatchSize)
	assert.Equal(t, 1024, cfg.Consensus.SubmitQueueSize)
	assert.Equal(t, "log15", cfg.Log.Backend)

	vs, err := cfg.ValidatorSet()
	require.NoError(t, err)
	assert.Equal(t, 4, vs.Size())
	assert.Equal(t, uint64(3), vs.QuorumThreshold())

	signer, err := cfg.Signer()
	require.NoError(t, err)
	sig, err := signer.Sign([]byte("digest"))
	require.NoError(t, err)
	v, ok := vs.Get(0)
	require.True(t, ok)
	pub, err := crypto.ParsePublicKey(v.PublicKey)
	require.NoError(t, err)
	valid, err := (&crypto.ECDSAVerifier{Pub: pub}).Verify(sig, []byte("digest"))
	require.NoError(t, err)
	assert.True(t, valid)

	tlsOpts, err := cfg.TLSOptions()
	require.NoError(t, err)
	assert.Nil(t, tlsOpts)
}

func TestEnvAndFlags(t *testing.T) {
	file := writeCluster(t, 4, "")
	t.Setenv("HOTSTUFF_NODE_ID", "2")
	t.Setenv("HOTSTUFF_CONSENSUS_PROPOSAL_DELAY", "20ms")

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.Node.ID)
	assert.Equal(t, 20*time.Millisecond, cfg.Consensus.ProposalDelay)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int64("replica-id", 0, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--replica-id=3", "--log-level=debug"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))
	cfg, err = Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.Node.ID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Node: NodeConfig{ID: 9, DataDir: "data"},
		Consensus: ConsensusConfig{
			Timeout:         timeoutOf(2*time.Second, time.Second),
			MaxBatchSize:    1,
			SubmitQueueSize: 1,
			VerifyWorkers:   1,
			SigCacheSize:    1,
		},
		Replicas: []ReplicaConfig{
			{ID: 0, Address: "127.0.0.1:8000", PublicKey: "0.pub"},
			{ID: 0, Address: "127.0.0.1:8001", PublicKey: "1.pub"},
			{ID: 2, Address: "not an address", PublicKey: "2.pub"},
		},
		TLS:     TLSConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}

	err := cfg.Validate()
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	msg := err.Error()
	assert.Contains(t, msg, "node.key-file: failed on required")
	assert.Contains(t, msg, "consensus.timeout.max-timeout: failed on gtefield")
	assert.Contains(t, msg, "replicas[2].address: failed on hostname_port")
	assert.Contains(t, msg, "tls.cert-file: failed on required_if")
	assert.Contains(t, msg, "duplicate replica id 0")
	assert.Contains(t, msg, "replica 9 is not in the replica list")
	assert.Contains(t, msg, "metrics.address: required")
	assert.Len(t, cerr.Errors(), 8)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidatorSetBadKey(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.pub")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0644))
	cfg := &Config{Replicas: []ReplicaConfig{{ID: 0, Address: "127.0.0.1:8000", PublicKey: bad}}}
	_, err := cfg.ValidatorSet()
	assert.Error(t, err)
}

func timeoutOf(lo, hi time.Duration) pacemaker.TimeoutConfig {
	c := pacemaker.DefaultTimeoutConfig()
	c.MinTimeout, c.MaxTimeout = lo, hi
	return c
}
