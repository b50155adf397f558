package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

// KubernetesWatcher mirrors the Endpoints objects of one namespace into
// the endpoint registry. Each ready address becomes a registered
// backend under the Endpoints object's name.
type KubernetesWatcher struct {
	client    kubernetes.Interface
	registry  *registry.Registry
	namespace string
	resync    time.Duration
	logger    *zap.Logger

	factory informers.SharedInformerFactory
	stopCh  chan struct{}

	mu      sync.Mutex
	tracked map[string]map[string]struct{}
}

// NewKubernetesWatcher builds a watcher from the discovery config,
// using the kubeconfig file when set and in-cluster credentials
// otherwise.
func NewKubernetesWatcher(cfg config.KubernetesDiscoveryConfig, reg *registry.Registry, logger *zap.Logger) (*KubernetesWatcher, error) {
	restCfg, err := buildRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes discovery: %w", err)
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes discovery: %w", err)
	}

	return NewKubernetesWatcherWithClient(cfg, client, reg, logger), nil
}

// NewKubernetesWatcherWithClient builds a watcher over an existing
// clientset.
func NewKubernetesWatcherWithClient(cfg config.KubernetesDiscoveryConfig, client kubernetes.Interface, reg *registry.Registry, logger *zap.Logger) *KubernetesWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KubernetesWatcher{
		client:    client,
		registry:  reg,
		namespace: cfg.Namespace,
		resync:    cfg.Resync.Duration(),
		logger:    logger,
		tracked:   make(map[string]map[string]struct{}),
	}
}

func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return rest.InClusterConfig()
}

// Start launches the informer and blocks until its cache is synced.
func (w *KubernetesWatcher) Start(ctx context.Context) error {
	w.factory = informers.NewSharedInformerFactoryWithOptions(
		w.client,
		w.resync,
		informers.WithNamespace(w.namespace),
	)

	informer := w.factory.Core().V1().Endpoints().Informer()
	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if eps, ok := obj.(*corev1.Endpoints); ok {
				w.sync(eps)
			}
		},
		UpdateFunc: func(_, obj interface{}) {
			if eps, ok := obj.(*corev1.Endpoints); ok {
				w.sync(eps)
			}
		},
		DeleteFunc: func(obj interface{}) {
			eps, ok := obj.(*corev1.Endpoints)
			if !ok {
				tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
				if !ok {
					return
				}
				eps, ok = tombstone.Obj.(*corev1.Endpoints)
				if !ok {
					return
				}
			}
			w.remove(eps.Name)
		},
	})
	if err != nil {
		return fmt.Errorf("kubernetes discovery: %w", err)
	}

	w.stopCh = make(chan struct{})
	w.factory.Start(w.stopCh)

	if !cache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
		close(w.stopCh)
		return fmt.Errorf("kubernetes discovery: cache sync interrupted")
	}

	w.logger.Info("kubernetes endpoint discovery started",
		zap.String("namespace", w.namespace),
		zap.Duration("resync", w.resync),
	)
	return nil
}

// Stop shuts the informer down.
func (w *KubernetesWatcher) Stop() {
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// sync reconciles the registry with the ready addresses of one
// Endpoints object.
func (w *KubernetesWatcher) sync(eps *corev1.Endpoints) {
	desired := make(map[string]struct{})
	for _, subset := range eps.Subsets {
		port, ok := httpPort(subset.Ports)
		if !ok {
			continue
		}
		for _, addr := range subset.Addresses {
			desired[fmt.Sprintf("http://%s:%d", addr.IP, port)] = struct{}{}
		}
	}

	w.mu.Lock()
	previous := w.tracked[eps.Name]
	w.tracked[eps.Name] = desired
	w.mu.Unlock()

	for url := range desired {
		ep := &registry.Endpoint{Service: eps.Name, BaseURL: url}
		if err := w.registry.Register(ep); err != nil {
			w.logger.Warn("discovered endpoint rejected",
				zap.String("service", eps.Name),
				zap.String("baseUrl", url),
				zap.Error(err),
			)
		}
	}

	for url := range previous {
		if _, keep := desired[url]; !keep {
			w.registry.Deregister(eps.Name, url)
		}
	}
}

// remove deregisters everything tracked for the deleted object.
func (w *KubernetesWatcher) remove(name string) {
	w.mu.Lock()
	previous := w.tracked[name]
	delete(w.tracked, name)
	w.mu.Unlock()

	for url := range previous {
		w.registry.Deregister(name, url)
	}

	w.logger.Info("kubernetes endpoints removed",
		zap.String("service", name),
		zap.Int("endpoints", len(previous)),
	)
}

// httpPort picks the port named http when present, the first port
// otherwise.
func httpPort(ports []corev1.EndpointPort) (int32, bool) {
	if len(ports) == 0 {
		return 0, false
	}
	for _, p := range ports {
		if p.Name == "http" {
			return p.Port, true
		}
	}
	return ports[0].Port, true
}
