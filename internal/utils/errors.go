package utils

import "errors"

// ошибки параметров подключения к хранилищу
var (
	ErrStorageEmptyHostName       = errors.New("postgres: host is empty")
	ErrStorageInvalidPortNumber   = errors.New("postgres: port out of range")
	ErrStorageEmptyUsername       = errors.New("postgres: user is empty")
	ErrStorageEmptyPassword       = errors.New("postgres: password is empty")
	ErrStorageInvalidDatabaseName = errors.New("postgres: database name is empty")
	ErrStorageInvalidSslMode      = errors.New("postgres: unsupported sslmode")
	ErrStorageInvalidPoolSize     = errors.New("postgres: negative pool size")
	ErrStorageInvalidTimeout      = errors.New("postgres: negative connect timeout")
)
