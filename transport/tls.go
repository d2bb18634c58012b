/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/pkg/errors"
)

// TLSOptions carries the PEM material a replica uses on both ends of its
// connections. The same options serve the listener and every dial.
type TLSOptions struct {
	// PEM-encoded X509 certificate of this replica
	Certificate []byte
	// PEM-encoded private key of Certificate
	Key []byte
	// CAs trusted when dialing other replicas
	ServerRootCAs [][]byte
	// CAs trusted for certificates presented by dialing replicas
	ClientRootCAs [][]byte
	UseTLS        bool
	// RequireClientCert turns on mutual TLS
	RequireClientCert bool
}

func (o *TLSOptions) enabled() bool {
	return o != nil && o.UseTLS
}

func (o *TLSOptions) keyPair() (tls.Certificate, error) {
	if o.Key == nil || o.Certificate == nil {
		return tls.Certificate{}, errors.New("both Key and Certificate are required when using mutual TLS")
	}
	cert, err := tls.X509KeyPair(o.Certificate, o.Key)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to load replica certificate")
	}
	return cert, nil
}

// dialConfig is the client side of the options, nil when TLS is off.
func (o *TLSOptions) dialConfig() (*tls.Config, error) {
	if !o.enabled() {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(o.ServerRootCAs) > 0 {
		pool, err := certPool(o.ServerRootCAs)
		if err != nil {
			return nil, errors.WithMessage(err, "server root CAs")
		}
		cfg.RootCAs = pool
	}
	if o.RequireClientCert {
		cert, err := o.keyPair()
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// listenConfig is the server side of the options, nil when TLS is off.
func (o *TLSOptions) listenConfig() (*tls.Config, error) {
	if !o.enabled() {
		return nil, nil
	}
	cert, err := o.keyPair()
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:             tls.VersionTLS12,
		Certificates:           []tls.Certificate{cert},
		SessionTicketsDisabled: true,
		ClientAuth:             tls.RequestClientCert,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
	if !o.RequireClientCert {
		return cfg, nil
	}
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	if len(o.ClientRootCAs) > 0 {
		if cfg.ClientCAs, err = certPool(o.ClientRootCAs); err != nil {
			return nil, errors.WithMessage(err, "client root CAs")
		}
	}
	return cfg, nil
}

func certPool(pems [][]byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for i, raw := range pems {
		if !pool.AppendCertsFromPEM(raw) {
			return nil, errors.Errorf("no certificate found in PEM #%d", i)
		}
	}
	return pool, nil
}
