package database

import (
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	// Keyring service name for database credentials
	DatabaseKeyringService = "printmesh-database"
	DatabasePasswordKey    = "postgres-password"
	ProductionUser         = "printmesh"
	DefaultDatabase        = "printmesh"
)

// GetProductionPassword retrieves the production database password from the
// OS keyring. Any service that needs the production database goes through
// this instead of carrying the password in its configuration.
func GetProductionPassword() (string, error) {
	password, err := keyring.Get(DatabaseKeyringService, DatabasePasswordKey)
	if err != nil {
		return "", fmt.Errorf("database password not found in keyring - has the node been initialized? Error: %w", err)
	}
	return password, nil
}

// SetProductionPassword stores the production database password in the OS
// keyring. Called once during node initialization.
func SetProductionPassword(password string) error {
	if err := keyring.Set(DatabaseKeyringService, DatabasePasswordKey, password); err != nil {
		return fmt.Errorf("failed to store database password in keyring: %w", err)
	}
	return nil
}

// FromProductionConfig creates a PostgreSQL config using keyring credentials
func FromProductionConfig(databaseName string) (PostgreSQLConfig, error) {
	password, err := GetProductionPassword()
	if err != nil {
		return PostgreSQLConfig{}, err
	}

	if databaseName == "" {
		databaseName = DefaultDatabase
	}

	return PostgreSQLConfig{
		User:              ProductionUser,
		Password:          password,
		Host:              "localhost",
		Port:              5432,
		Database:          databaseName,
		SSLMode:           "disable",
		MaxConnections:    40,
		ConnectionTimeout: 5 * time.Second,
	}, nil
}
