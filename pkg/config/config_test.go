package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/numtide/kube-postgres-bootstrap/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "databases.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		want    []config.Tenant
		wantErr string
	}{
		"single tenant JSON": {
			content: `[{"username":"svc","databases":["app"],"namespace":"ns1"}]`,
			want: []config.Tenant{
				{Username: "svc", Databases: []string{"app"}, Namespace: "ns1"},
			},
		},
		"multiple tenants keep order": {
			content: `[
				{"username": "billing", "databases": ["invoices", "ledger"], "namespace": "prod"},
				{"username": "analytics", "databases": ["events"], "namespace": "prod"}
			]`,
			want: []config.Tenant{
				{Username: "billing", Databases: []string{"invoices", "ledger"}, Namespace: "prod"},
				{Username: "analytics", Databases: []string{"events"}, Namespace: "prod"},
			},
		},
		"duplicate databases are kept": {
			content: `[{"username":"svc","databases":["app","app"],"namespace":"ns1"}]`,
			want: []config.Tenant{
				{Username: "svc", Databases: []string{"app", "app"}, Namespace: "ns1"},
			},
		},
		"unknown fields are ignored": {
			content: `[{"username":"svc","databases":["app"],"namespace":"ns1","comment":"legacy"}]`,
			want: []config.Tenant{
				{Username: "svc", Databases: []string{"app"}, Namespace: "ns1"},
			},
		},
		"yaml superset": {
			content: "- username: svc\n  databases: [app]\n  namespace: ns1\n",
			want: []config.Tenant{
				{Username: "svc", Databases: []string{"app"}, Namespace: "ns1"},
			},
		},
		"unparseable": {
			content: `{"username": `,
			wantErr: "parsing config file",
		},
		"unsafe username": {
			content: `[{"username":"svc; DROP ROLE admin","databases":["app"],"namespace":"ns1"}]`,
			wantErr: "username",
		},
		"unsafe database name": {
			content: `[{"username":"svc","databases":["app\"--"],"namespace":"ns1"}]`,
			wantErr: "database",
		},
		"missing namespace": {
			content: `[{"username":"svc","databases":["app"]}]`,
			wantErr: "namespace is empty",
		},
		"no databases": {
			content: `[{"username":"svc","databases":[],"namespace":"ns1"}]`,
			wantErr: "no databases listed",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := config.Load(writeConfig(t, tc.content))
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() error = nil, want substring %q", tc.wantErr)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("Load() error = %q, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load() error = nil, want read failure")
	}
}

func TestSecretName(t *testing.T) {
	t.Parallel()

	tenant := config.Tenant{Username: "svc"}
	if got, want := tenant.SecretName(), "svc-db-credentials"; got != want {
		t.Errorf("SecretName() = %q, want %q", got, want)
	}
}

func TestFromEnv(t *testing.T) {
	tests := map[string]struct {
		env     map[string]string
		want    config.ConnectionProfile
		wantErr string
	}{
		"all set": {
			env: map[string]string{
				"DB_HOST":     "db.internal",
				"DB_PORT":     "5433",
				"DB_USERNAME": "postgres",
				"DB_PASSWORD": "hunter2",
			},
			want: config.ConnectionProfile{
				Host: "db.internal", Port: "5433", User: "postgres", Password: "hunter2",
			},
		},
		"port defaults to 5432": {
			env: map[string]string{
				"DB_HOST":     "db.internal",
				"DB_USERNAME": "postgres",
				"DB_PASSWORD": "hunter2",
			},
			want: config.ConnectionProfile{
				Host: "db.internal", Port: "5432", User: "postgres", Password: "hunter2",
			},
		},
		"missing host and password": {
			env: map[string]string{
				"DB_USERNAME": "postgres",
			},
			wantErr: "DB_HOST, DB_PASSWORD",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USERNAME", "DB_PASSWORD"} {
				t.Setenv(key, tc.env[key])
			}
			got, err := config.FromEnv()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("FromEnv() error = %v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEnv() error = %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("FromEnv() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	t.Parallel()

	profile := config.ConnectionProfile{
		Host: "db.internal", Port: "5432", User: "postgres", Password: "adminpw",
	}

	if got, want := profile.DSN(), "host=db.internal port=5432 user=postgres password=adminpw"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	got := profile.DatabaseURL("svc", "s3cretpw", "app")
	want := "host=db.internal port=5432 user=svc password='s3cretpw' dbname=app sslmode=disable"
	if got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}
}
