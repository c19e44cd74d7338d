package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"prevant/internal/apps"
	"prevant/internal/backupstore"
	"prevant/internal/bootstrap"
	"prevant/internal/config"
	"prevant/internal/events"
	"prevant/internal/hooks"
	"prevant/internal/httpapi"
	"prevant/internal/infra"
	"prevant/internal/infra/dockerinfra"
	"prevant/internal/infra/k8sinfra"
	"prevant/internal/owners"
	"prevant/internal/queue"
	"prevant/internal/queue/memqueue"
	"prevant/internal/queue/pgqueue"
	"prevant/internal/registry"
	"prevant/internal/resolver"
	"prevant/internal/statuschange"
	"prevant/internal/template"
	"prevant/pkg/logging"
)

const statusChangeTTL = 10 * time.Minute

// Application is a fully wired prevant server, ready to accept connections
// and run its background task-queue/cache-sync loops.
type Application struct {
	cfg         *Config
	httpServer  *http.Server
	queueImpl   queue.Queue
	apiServer   *httpapi.Server
	appsSvc     *apps.Service
	broadcaster *events.Broadcaster
	backend     infra.Backend
}

// NewApplication loads configuration and constructs every collaborator the
// server needs: the active Infrastructure backend, the digest resolver,
// the hook runtime, the Apps Service, the Task Queue (memory or Postgres,
// selected by whether [database] is configured), the backup store, and the
// HTTP surface.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	prevantCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	backend, err := buildBackend(prevantCfg)
	if err != nil {
		return nil, fmt.Errorf("build infrastructure backend: %w", err)
	}

	engine := template.New()
	hookRuntime := hooks.New(timeoutOrDefault(prevantCfg.Hooks.TimeoutSeconds))
	digests := registry.New(mirrorConfig(prevantCfg), registryKeychainFor(prevantCfg))

	var bootstrapRunner resolver.BootstrapRunner
	if runner, ok := backend.(bootstrap.ContainerRunner); ok {
		bootstrapRunner = bootstrap.New(runner, engine)
	}

	res := resolver.New(engine, hookRuntime, digests, bootstrapRunner)
	statusReg := statuschange.New(statusChangeTTL)
	ownerReg := owners.New(backend)
	appsSvc := apps.New(prevantCfg, backend, res, statusReg, ownerReg, hookRuntime)
	broadcaster := events.New(0)

	var pool *pgxpool.Pool
	if prevantCfg.Database != nil {
		pool, err = pgxpool.New(context.Background(), prevantCfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	taskQueue := buildQueue(prevantCfg, pool)
	backups := buildBackupStore(pool)

	server := httpapi.New(prevantCfg, appsSvc, statusReg, broadcaster, backend, taskQueue, backups)

	return &Application{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: server.Router(),
		},
		queueImpl:   taskQueue,
		apiServer:   server,
		appsSvc:     appsSvc,
		broadcaster: broadcaster,
		backend:     backend,
	}, nil
}

// Run starts the HTTP surface on ln (if nil, http.Server dials cfg.ListenAddr
// itself) alongside the cache-sync poller and, when a queue is configured,
// the task-queue worker loop. It blocks until ctx is cancelled, then shuts
// the HTTP server down gracefully.
func (a *Application) Run(ctx context.Context, ln net.Listener) error {
	a.broadcaster.StartPolling(ctx, events.NewBackendPoller(a.backend), 30*time.Second)
	go a.appsSvc.RunCacheSync(ctx, a.broadcaster)

	if pq, ok := a.queueImpl.(*pgqueue.Queue); ok {
		if err := pq.Reclaim(ctx); err != nil {
			logging.Error("Bootstrap", err, "reclaiming owned tasks on startup")
		}
		go leaseExpiryLoop(ctx, pq)
	}
	if a.queueImpl != nil {
		go queue.Run(ctx, a.queueImpl, a.apiServer.TaskHandler())
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			err = a.httpServer.Serve(ln)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		if a.queueImpl != nil {
			a.queueImpl.Shutdown()
		}
		a.broadcaster.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func leaseExpiryLoop(ctx context.Context, pq *pgqueue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pq.ExpireStaleLeases(ctx); err != nil {
				logging.Error("Bootstrap", err, "expiring stale task leases")
			}
		}
	}
}

func timeoutOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return hooks.DefaultTimeout
	}
	return time.Duration(seconds) * time.Second
}

func mirrorConfig(cfg config.Config) registry.MirrorConfig {
	mirrors := make(registry.MirrorConfig, len(cfg.Registries.Entries))
	for host, entry := range cfg.Registries.Entries {
		if entry.Mirror != "" {
			mirrors[host] = entry.Mirror
		}
	}
	return mirrors
}

// registryKeychain adapts [registries.*] credentials into a
// go-containerregistry authn.Keychain, falling back to anonymous access
// for any registry host without a configured entry.
type registryKeychain struct {
	entries map[string]config.RegistryConfig
}

func (k registryKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	entry, ok := k.entries[target.RegistryStr()]
	if !ok || entry.Username == "" {
		return authn.Anonymous, nil
	}
	return authn.FromConfig(authn.AuthConfig{Username: entry.Username, Password: entry.Password}), nil
}

func registryKeychainFor(cfg config.Config) authn.Keychain {
	return registryKeychain{entries: cfg.Registries.Entries}
}

func buildBackend(cfg config.Config) (infra.Backend, error) {
	switch cfg.Runtime.Type {
	case "Kubernetes":
		restConfig, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", err)
		}
		cl, err := ctrlclient.New(restConfig, ctrlclient.Options{Scheme: clientgoscheme.Scheme})
		if err != nil {
			return nil, fmt.Errorf("build controller-runtime client: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes clientset: %w", err)
		}
		dynClient, err := dynamic.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("build kubernetes dynamic client: %w", err)
		}
		return k8sinfra.New(cl, clientset, dynClient, cfg.Runtime.Namespace, cfg.Containers.MemoryLimitBytes), nil

	case "Docker", "":
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("build docker client: %w", err)
		}
		mirrors := make(map[string]string, len(cfg.Registries.Entries))
		for host, entry := range cfg.Registries.Entries {
			if entry.Mirror != "" {
				mirrors[host] = entry.Mirror
			}
		}
		return dockerinfra.New(cli, mirrors, cfg.Containers.MemoryLimitBytes), nil

	default:
		return nil, fmt.Errorf("unknown runtime.type %q (want Docker or Kubernetes)", cfg.Runtime.Type)
	}
}

func buildQueue(cfg config.Config, pool *pgxpool.Pool) queue.Queue {
	if pool == nil {
		logging.Info("Bootstrap", "no [database] configured, running with the in-memory task queue")
		return memqueue.New()
	}
	leaseTTL := 30 * time.Second
	if cfg.Database.LeaseTTLSeconds > 0 {
		leaseTTL = time.Duration(cfg.Database.LeaseTTLSeconds) * time.Second
	}
	return pgqueue.New(pool, uuid.NewString(), leaseTTL)
}

func buildBackupStore(pool *pgxpool.Pool) backupstore.Store {
	if pool == nil {
		return backupstore.NewMemory()
	}
	return backupstore.NewPostgres(pool)
}
