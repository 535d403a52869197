package util

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"os"
)

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates could be parsed in %s", path)
	}
	return pool, nil
}

// ClientTLSFlags configures TLS for outbound HTTP requests. Dump
// mirrors often sit behind a private CA, so a CA can be given on its
// own; adding a certificate/key pair enables mutual authentication.
type ClientTLSFlags struct {
	cert string
	key  string
	ca   string
}

func (c *ClientTLSFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.cert, "ssl-client-cert", FlagDefault("ssl-client-cert", ""), "client TLS certificate `path`")
	f.StringVar(&c.key, "ssl-client-key", FlagDefault("ssl-client-key", ""), "client TLS private key `path`")
	f.StringVar(&c.ca, "ssl-client-ca", FlagDefault("ssl-client-ca", ""), "CA `path` used to verify servers")
}

func (c *ClientTLSFlags) TLSClientConfig() (*tls.Config, error) {
	if c.cert == "" && c.key == "" && c.ca == "" {
		return nil, nil
	}

	var tlsConf tls.Config
	if c.ca != "" {
		pool, err := loadCertPool(c.ca)
		if err != nil {
			return nil, err
		}
		tlsConf.RootCAs = pool
	}

	switch {
	case c.cert != "" && c.key != "":
		cert, err := tls.LoadX509KeyPair(c.cert, c.key)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	case c.cert != "" || c.key != "":
		return nil, errors.New("-ssl-client-cert and -ssl-client-key must be given together")
	}

	return &tlsConf, nil
}

// ServerTLSFlags configures TLS for a listening HTTP server. Setting
// a CA turns on client certificate validation.
type ServerTLSFlags struct {
	cert string
	key  string
	ca   string
}

func (c *ServerTLSFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.cert, "ssl-cert", FlagDefault("ssl-cert", ""), "server TLS certificate `path`")
	f.StringVar(&c.key, "ssl-key", FlagDefault("ssl-key", ""), "server TLS private key `path`")
	f.StringVar(&c.ca, "ssl-ca", FlagDefault("ssl-ca", ""), "CA `path` used to verify client certificates")
}

func (c *ServerTLSFlags) TLSServerConfig() (*tls.Config, error) {
	switch {
	case c.cert == "" && c.key == "":
		return nil, nil
	case c.cert == "" || c.key == "":
		return nil, errors.New("-ssl-cert and -ssl-key must be given together")
	}

	cert, err := tls.LoadX509KeyPair(c.cert, c.key)
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2", "http/1.1"},
	}

	if c.ca != "" {
		pool, err := loadCertPool(c.ca)
		if err != nil {
			return nil, err
		}
		tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConf.ClientCAs = pool
	}

	return tlsConf, nil
}
