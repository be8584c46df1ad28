package utils

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() ConnParams {
	return ConnParams{
		Host: "db", Port: 5432, User: "sync", Password: "p@ss:word",
		DBName: "catalog_sync", SSLMode: "disable", PoolSize: 10, Timeout: 5 * time.Second,
		AppName: "catalog-sync",
	}
}

func TestGenerateConnectionString(t *testing.T) {
	s, err := GenerateConnectionString(validParams())
	require.NoError(t, err)

	u, err := url.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/catalog_sync", u.Path)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss:word", pass)

	q := u.Query()
	assert.Equal(t, "disable", q.Get("sslmode"))
	assert.Equal(t, "5", q.Get("connect_timeout"))
	assert.Equal(t, "10", q.Get("pool_max_conns"))
	assert.Equal(t, "catalog-sync", q.Get("application_name"))
}

func TestGenerateConnectionString_OptionalParams(t *testing.T) {
	p := validParams()
	p.PoolSize, p.Timeout, p.AppName = 0, 0, ""
	s, err := GenerateConnectionString(p)
	require.NoError(t, err)
	u, err := url.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"sslmode": {"disable"}}, u.Query())
}

func TestGenerateConnectionString_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		mutate func(*ConnParams)
	}{
		{"host", ErrStorageEmptyHostName, func(p *ConnParams) { p.Host = "" }},
		{"port", ErrStorageInvalidPortNumber, func(p *ConnParams) { p.Port = 70000 }},
		{"user", ErrStorageEmptyUsername, func(p *ConnParams) { p.User = "" }},
		{"sslmode", ErrStorageInvalidSslMode, func(p *ConnParams) { p.SSLMode = "sometimes" }},
		{"timeout", ErrStorageInvalidTimeout, func(p *ConnParams) { p.Timeout = -time.Second }},
		{"pool", ErrStorageInvalidPoolSize, func(p *ConnParams) { p.PoolSize = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := GenerateConnectionString(p)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}
