// Package secrets reads and creates the credential Secrets that record
// a tenant as provisioned.
package secrets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/numtide/kube-postgres-bootstrap/pkg/config"
)

// Error reports a failed secret-store call. A missing Secret is not an
// error; see Store.Get.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("secret store %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Store accesses credential Secrets through the cluster API.
type Store struct {
	client      client.Client
	callTimeout time.Duration
}

// NewStore wraps the given cluster client. callTimeout bounds each API
// call; zero leaves calls bounded only by the caller's context.
func NewStore(c client.Client, callTimeout time.Duration) *Store {
	return &Store{client: c, callTimeout: callTimeout}
}

// Get fetches the named Secret. Absence is reported through the
// boolean, not as an error; any other failure is an *Error.
func (s *Store) Get(ctx context.Context, namespace, name string) (*corev1.Secret, bool, error) {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	secret := &corev1.Secret{}
	err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, secret)
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "get", Err: err}
	}
	return secret, true, nil
}

// Create publishes the Secret. A creation race ("already exists")
// surfaces as an error; the caller treats that tenant as failed rather
// than adopting a Secret it did not build.
func (s *Store) Create(ctx context.Context, secret *corev1.Secret) error {
	ctx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.client.Create(ctx, secret); err != nil {
		return &Error{Op: "create", Err: err}
	}
	return nil
}

func (s *Store) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// CredentialSecret assembles the published record for one tenant. The
// per-database fields are index-suffixed in input order: database.<i>
// names the database and database_url.<i> holds a ready connection
// string for it.
func CredentialSecret(profile config.ConnectionProfile, tenant config.Tenant, password string) *corev1.Secret {
	data := map[string]string{
		"database_host": profile.Host,
		"database_port": profile.Port,
		"username":      tenant.Username,
		"password":      password,
	}
	for i, db := range tenant.Databases {
		data["database."+strconv.Itoa(i)] = db
		data["database_url."+strconv.Itoa(i)] = profile.DatabaseURL(tenant.Username, password, db)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      tenant.SecretName(),
			Namespace: tenant.Namespace,
		},
		StringData: data,
	}
}
