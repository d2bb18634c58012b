package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhigui-projects/hotstuff-consensus/common/crypto"
)

var (
	keygenCount    int
	keygenOutDir   string
	keygenBasePort int
	keygenHost     string
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate keys and configs for a local hotstuff cluster.",
		Long:  `Generate a key pair and a config file for every replica of a hotstuff cluster.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("trailing args detected")
			}
			cmd.SilenceUsage = true
			return keygen(keygenOutDir, keygenCount, keygenHost, keygenBasePort)
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&keygenCount, "replicas", "n", 4, "number of replicas")
	flags.StringVarP(&keygenOutDir, "outdir", "o", "cluster", "output directory for generated files")
	flags.StringVar(&keygenHost, "host", "127.0.0.1", "host the replicas listen on")
	flags.IntVar(&keygenBasePort, "port", 8000, "listen port of replica 0, replica i listens on port+i")
	return cmd
}

func keygen(dir string, n int, host string, basePort int) error {
	if n < 1 {
		return errors.Errorf("invalid number of replicas %d", n)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	replicas := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		priv, err := crypto.MarshalPrivateKey(key)
		if err != nil {
			return err
		}
		pub, err := crypto.MarshalPublicKey(&key.PublicKey)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keyFile(dir, i), priv, 0600); err != nil {
			return errors.Wrap(err, "write private key")
		}
		if err := os.WriteFile(pubFile(dir, i), pub, 0644); err != nil {
			return errors.Wrap(err, "write public key")
		}
		replicas = append(replicas, map[string]interface{}{
			"id":         i,
			"address":    fmt.Sprintf("%s:%d", host, basePort+i),
			"public-key": pubFile(dir, i),
		})
	}

	for i := 0; i < n; i++ {
		v := viper.New()
		v.Set("node.id", i)
		v.Set("node.data-dir", filepath.Join(dir, fmt.Sprintf("data%d", i)))
		v.Set("node.key-file", keyFile(dir, i))
		v.Set("replicas", replicas)
		v.Set("metrics.enabled", true)
		v.Set("metrics.address", fmt.Sprintf("%s:%d", host, basePort+1000+i))
		file := filepath.Join(dir, fmt.Sprintf("hotstuff%d.yaml", i))
		if err := v.WriteConfigAs(file); err != nil {
			return errors.Wrapf(err, "write %s", file)
		}
		logger.Info("Generated replica", "replicaId", i, "config", file)
	}
	return nil
}

func keyFile(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("replica%d.key", i))
}

func pubFile(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("replica%d.pub", i))
}
