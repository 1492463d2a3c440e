// Package config loads the declarative tenant list and carries the
// tool's own connection settings as an explicit value instead of
// ambient environment reads.
package config

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/numtide/kube-postgres-bootstrap/pkg/util/ident"
)

// Tenant is the desired state for one provisioned account: a SQL role
// with access to the listed databases, published as a credential Secret
// in the given namespace. Databases keep their input order; duplicates
// are processed independently.
type Tenant struct {
	Username  string   `json:"username"`
	Databases []string `json:"databases"`
	Namespace string   `json:"namespace"`
}

// SecretName returns the name of the credential Secret for this tenant.
func (t Tenant) SecretName() string {
	return t.Username + "-db-credentials"
}

// Validate checks the entry before anything touches the server: the
// username and every database name must pass the SQL identifier
// allow-list, and the namespace must be set.
func (t Tenant) Validate() error {
	if err := ident.Validate(t.Username); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if len(t.Databases) == 0 {
		return fmt.Errorf("tenant %s: no databases listed", t.Username)
	}
	for _, db := range t.Databases {
		if err := ident.Validate(db); err != nil {
			return fmt.Errorf("tenant %s: database: %w", t.Username, err)
		}
	}
	if t.Namespace == "" {
		return fmt.Errorf("tenant %s: namespace is empty", t.Username)
	}
	return nil
}

// Load reads the tenant list from path: an array of
// {username, databases, namespace} objects, JSON as published or YAML
// as a superset. Unknown fields are ignored, so annotated configs keep
// working. Every entry is validated so a bad identifier fails the run
// before any connection is opened.
func Load(path string) ([]Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var tenants []Tenant
	if err := yaml.Unmarshal(raw, &tenants); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for i, t := range tenants {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("config entry %d: %w", i, err)
		}
	}
	return tenants, nil
}

// ConnectionProfile holds the connection parameters for the tool's own
// SQL session, shared read-only by the whole run. It is built once in
// main; nothing below main reads the process environment.
type ConnectionProfile struct {
	Host     string
	Port     string
	User     string
	Password string
}

// FromEnv builds a ConnectionProfile from DB_HOST, DB_PORT,
// DB_USERNAME and DB_PASSWORD. DB_PORT defaults to 5432, the rest are
// required.
func FromEnv() (ConnectionProfile, error) {
	p := ConnectionProfile{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		User:     os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
	}
	if p.Port == "" {
		p.Port = "5432"
	}
	var missing []string
	if p.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if p.User == "" {
		missing = append(missing, "DB_USERNAME")
	}
	if p.Password == "" {
		missing = append(missing, "DB_PASSWORD")
	}
	if len(missing) > 0 {
		return ConnectionProfile{}, fmt.Errorf(
			"missing required environment variables: %s",
			strings.Join(missing, ", "),
		)
	}
	return p, nil
}

// DSN returns the keyword/value conninfo for the tool's own session.
func (p ConnectionProfile) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s",
		p.Host, p.Port, p.User, p.Password,
	)
}

// DatabaseURL returns the conninfo published for one tenant database,
// in the exact shape consumers of the credential Secret expect.
func (p ConnectionProfile) DatabaseURL(user, password, dbname string) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password='%s' dbname=%s sslmode=disable",
		p.Host, p.Port, user, password, dbname,
	)
}
