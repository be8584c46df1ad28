package utils

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// ConnParams параметры подключения к PostgreSQL
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	PoolSize int
	Timeout  time.Duration
	// AppName попадает в pg_stat_activity
	AppName string
}

func (p ConnParams) validate() error {
	switch {
	case p.Host == "":
		return ErrStorageEmptyHostName
	case p.Port <= 0 || p.Port > 65535:
		return ErrStorageInvalidPortNumber
	case p.User == "":
		return ErrStorageEmptyUsername
	case p.Password == "":
		return ErrStorageEmptyPassword
	case p.DBName == "":
		return ErrStorageInvalidDatabaseName
	case !validSSLModes[p.SSLMode]:
		return ErrStorageInvalidSslMode
	case p.Timeout < 0:
		return ErrStorageInvalidTimeout
	case p.PoolSize < 0:
		return ErrStorageInvalidPoolSize
	}
	return nil
}

var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// GenerateConnectionString строит URL подключения для pgxpool. Пароль экранируется,
// размер пула передается через pool_max_conns.
func GenerateConnectionString(p ConnParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	if p.Timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(max(int(p.Timeout.Seconds()), 1)))
	}
	if p.PoolSize > 0 {
		q.Set("pool_max_conns", strconv.Itoa(p.PoolSize))
	}
	if p.AppName != "" {
		q.Set("application_name", p.AppName)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DBName,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}
