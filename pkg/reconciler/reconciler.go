package reconciler

import (
	"context"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/numtide/kube-postgres-bootstrap/pkg/config"
	"github.com/numtide/kube-postgres-bootstrap/pkg/password"
	"github.com/numtide/kube-postgres-bootstrap/pkg/secrets"
)

// Catalog is the SQL side of a provisioning pass.
type Catalog interface {
	RoleExists(ctx context.Context, name string) (bool, error)
	CreateRole(ctx context.Context, name, password string) error
	SetRolePassword(ctx context.Context, name, password string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string) error
	GrantAllPrivileges(ctx context.Context, database, role string) error
}

// SecretStore is the credential side.
type SecretStore interface {
	Get(ctx context.Context, namespace, name string) (*corev1.Secret, bool, error)
	Create(ctx context.Context, secret *corev1.Secret) error
}

// Result is the outcome for one tenant.
type Result struct {
	Tenant config.Tenant
	// Skipped is true when the credential Secret already existed and
	// the tenant was left untouched.
	Skipped bool
	Err     error
}

// Reconciler provisions tenants one at a time over shared read-only
// client handles. It holds no state of its own; everything it decides
// on lives in the database catalogs and the secret store.
type Reconciler struct {
	Catalog Catalog
	Store   SecretStore
	Profile config.ConnectionProfile
	Log     logr.Logger

	// GeneratePassword defaults to password.Generate; tests swap in a
	// deterministic source.
	GeneratePassword func() string
}

// Run processes tenants strictly in input order. A failure scopes to
// its tenant; the pass continues and returns one Result per tenant, in
// the same order.
func (r *Reconciler) Run(ctx context.Context, tenants []config.Tenant) []Result {
	results := make([]Result, 0, len(tenants))
	for _, tenant := range tenants {
		res := Result{Tenant: tenant}
		res.Skipped, res.Err = r.reconcile(ctx, tenant)
		if res.Err != nil {
			r.Log.Error(res.Err, "tenant provisioning failed",
				"username", tenant.Username, "namespace", tenant.Namespace)
		}
		results = append(results, res)
	}
	return results
}

func (r *Reconciler) reconcile(ctx context.Context, tenant config.Tenant) (skipped bool, err error) {
	logger := r.Log.WithValues("username", tenant.Username, "namespace", tenant.Namespace)
	secretName := tenant.SecretName()

	// The Secret's existence is the idempotency gate: once it is
	// published, SQL state is never re-derived for this tenant.
	_, found, err := r.Store.Get(ctx, tenant.Namespace, secretName)
	if err != nil {
		return false, err
	}
	if found {
		logger.Info("secret already exists, skipping", "secret", secretName)
		return true, nil
	}

	generate := r.GeneratePassword
	if generate == nil {
		generate = password.Generate
	}
	pw := generate()

	exists, err := r.Catalog.RoleExists(ctx, tenant.Username)
	if err != nil {
		return false, err
	}
	if exists {
		// Recreating a lost Secret rotates the live password; the old
		// credentials stop working the moment this succeeds.
		logger.Info("role exists, rotating password")
		if err := r.Catalog.SetRolePassword(ctx, tenant.Username, pw); err != nil {
			return false, err
		}
	} else {
		logger.Info("creating role")
		if err := r.Catalog.CreateRole(ctx, tenant.Username, pw); err != nil {
			return false, err
		}
	}

	for _, db := range tenant.Databases {
		exists, err := r.Catalog.DatabaseExists(ctx, db)
		if err != nil {
			return false, err
		}
		if !exists {
			logger.Info("creating database", "database", db)
			if err := r.Catalog.CreateDatabase(ctx, db); err != nil {
				return false, err
			}
		}
		// Reasserted on every pass, created or not, to repair grant
		// drift.
		logger.Info("ensuring database access", "database", db)
		if err := r.Catalog.GrantAllPrivileges(ctx, db, tenant.Username); err != nil {
			return false, err
		}
	}

	if err := r.Store.Create(ctx, secrets.CredentialSecret(r.Profile, tenant, pw)); err != nil {
		return false, err
	}
	logger.Info("created credential secret", "secret", secretName)
	return false, nil
}
