// kube-postgres-bootstrap provisions PostgreSQL tenant accounts from a
// declarative config file and publishes their credentials as Secrets.
//
// Usage:
//
//	kube-postgres-bootstrap [flags] <config-file>
//
// The config file holds an array of {username, databases, namespace}
// objects. The tool's own database connection is taken from DB_HOST,
// DB_PORT (default 5432), DB_USERNAME and DB_PASSWORD; the cluster
// connection resolves like any client-go tool (in-cluster config or
// kubeconfig).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/numtide/kube-postgres-bootstrap/pkg/catalog"
	"github.com/numtide/kube-postgres-bootstrap/pkg/config"
	"github.com/numtide/kube-postgres-bootstrap/pkg/reconciler"
	"github.com/numtide/kube-postgres-bootstrap/pkg/secrets"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	os.Exit(run())
}

func run() int {
	var runTimeout time.Duration
	var callTimeout time.Duration

	flag.DurationVar(&runTimeout, "timeout", 10*time.Minute,
		"Overall deadline for the provisioning run.")
	flag.DurationVar(&callTimeout, "call-timeout", 30*time.Second,
		"Per-call deadline for SQL statements and cluster API requests.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: kube-postgres-bootstrap [flags] <config-file>")
		return 2
	}
	configPath := flag.Arg(0)
	setupLog.Info("using config file", "path", configPath)

	tenants, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "failed to load config")
		return 1
	}

	profile, err := config.FromEnv()
	if err != nil {
		setupLog.Error(err, "incomplete database connection settings")
		return 1
	}

	ctx, cancel := context.WithTimeout(ctrl.SetupSignalHandler(), runTimeout)
	defer cancel()

	cat, err := catalog.Connect(ctx, profile, catalog.Options{
		CallTimeout: callTimeout,
		Logger:      ctrl.Log.WithName("catalog"),
	})
	if err != nil {
		setupLog.Error(err, "failed to connect to database",
			"host", profile.Host, "port", profile.Port)
		return 1
	}
	defer func() {
		if err := cat.Close(context.Background()); err != nil {
			setupLog.Error(err, "failed to close database connection")
		}
	}()

	kubeClient, err := client.New(ctrl.GetConfigOrDie(), client.Options{
		Scheme: clientgoscheme.Scheme,
	})
	if err != nil {
		setupLog.Error(err, "failed to create cluster client")
		return 1
	}

	rec := &reconciler.Reconciler{
		Catalog: cat,
		Store:   secrets.NewStore(kubeClient, callTimeout),
		Profile: profile,
		Log:     ctrl.Log.WithName("reconciler"),
	}

	var failed int
	for _, res := range rec.Run(ctx, tenants) {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		setupLog.Info("run finished with failures", "failed", failed, "tenants", len(tenants))
		return 1
	}
	setupLog.Info("run finished", "tenants", len(tenants))
	return 0
}
