package k8s

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/kubelens/kubelens/pkg/aggregate"
)

const (
	inClusterName             = "in-cluster"
	clusterHealthCheckTimeout = 8 * time.Second
	clusterProbeTimeout       = 5 * time.Second
	k8sClientTimeout          = 30 * time.Second
	clusterCacheTTL           = 60 * time.Second
	kubeconfigDebounce        = 500 * time.Millisecond
	kubeconfigPollInterval    = 5 * time.Second
)

// MultiClusterClient manages connections to every cluster in the kubeconfig,
// plus the local cluster when running in a pod.
type MultiClusterClient struct {
	mu              sync.RWMutex
	kubeconfig      string
	clients         map[string]kubernetes.Interface
	dynamicClients  map[string]dynamic.Interface
	metricsClients  map[string]PodMetricsAPI
	configs         map[string]*rest.Config
	rawConfig       *api.Config
	healthCache     map[string]*ClusterHealth
	cacheTTL        time.Duration
	cacheTime       map[string]time.Time
	probing         map[string]bool
	watcher         *fsnotify.Watcher
	stopWatch       chan struct{}
	onReload        func()
	inClusterConfig *rest.Config
	clusterTimeout  time.Duration
	observer        aggregate.Observer
}

// ClusterInfo is one selectable cluster.
type ClusterInfo struct {
	Name      string `json:"name"`
	Context   string `json:"context"`
	Server    string `json:"server,omitempty"`
	User      string `json:"user,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Source    string `json:"source,omitempty"`
	IsCurrent bool   `json:"isCurrent,omitempty"`
	Healthy   bool   `json:"healthy"`
	Reachable bool   `json:"reachable"`
	ErrorType string `json:"errorType,omitempty"`
}

// ClusterHealth is the cached reachability of a cluster.
type ClusterHealth struct {
	Cluster      string   `json:"cluster"`
	Healthy      bool     `json:"healthy"`
	Reachable    bool     `json:"reachable"`
	ErrorType    string   `json:"errorType,omitempty"` // timeout, auth, network, certificate, unknown
	ErrorMessage string   `json:"errorMessage,omitempty"`
	NodeCount    int      `json:"nodeCount"`
	ReadyNodes   int      `json:"readyNodes"`
	Issues       []string `json:"issues,omitempty"`
	CheckedAt    string   `json:"checkedAt,omitempty"`
}

// NewMultiClusterClient creates a client for kubeconfig. An empty path falls
// back to $KUBECONFIG and then ~/.kube/config. When no kubeconfig exists and
// the process runs in a pod, the in-cluster config is used.
func NewMultiClusterClient(kubeconfig string) (*MultiClusterClient, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}

	client := &MultiClusterClient{
		kubeconfig:     kubeconfig,
		clients:        make(map[string]kubernetes.Interface),
		dynamicClients: make(map[string]dynamic.Interface),
		metricsClients: make(map[string]PodMetricsAPI),
		configs:        make(map[string]*rest.Config),
		healthCache:    make(map[string]*ClusterHealth),
		cacheTTL:       clusterCacheTTL,
		cacheTime:      make(map[string]time.Time),
	}

	if _, err := os.Stat(kubeconfig); os.IsNotExist(err) {
		if inClusterConfig, err := rest.InClusterConfig(); err == nil {
			slog.Info("using in-cluster config", "reason", "no kubeconfig file")
			client.inClusterConfig = inClusterConfig
		}
	}

	return client, nil
}

// SetClusterTimeout bounds each cluster's share of a multi-cluster list.
func (m *MultiClusterClient) SetClusterTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusterTimeout = d
}

// ClusterTimeout returns the bound on one cluster's share of a
// multi-cluster list.
func (m *MultiClusterClient) ClusterTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.clusterTimeout <= 0 {
		return aggregate.DefaultClusterTimeout
	}
	return m.clusterTimeout
}

// SetFetchObserver receives per-cluster fetch timings from ListAll.
func (m *MultiClusterClient) SetFetchObserver(o aggregate.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// InjectClient injects a typed client for a cluster (for testing)
func (m *MultiClusterClient) InjectClient(contextName string, client kubernetes.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[contextName] = client
}

// InjectDynamicClient injects a dynamic client for a cluster (for testing)
func (m *MultiClusterClient) InjectDynamicClient(contextName string, client dynamic.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamicClients[contextName] = client
}

// InjectPodMetrics injects a metrics API for a cluster (for testing)
func (m *MultiClusterClient) InjectPodMetrics(contextName string, metrics PodMetricsAPI) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricsClients[contextName] = metrics
}

// SetRawConfig sets the raw kubeconfig (for testing)
func (m *MultiClusterClient) SetRawConfig(config *api.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawConfig = config
}

// LoadConfig (re)reads the kubeconfig and drops every cached client.
func (m *MultiClusterClient) LoadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inClusterConfig != nil {
		if _, err := os.Stat(m.kubeconfig); os.IsNotExist(err) {
			m.rawConfig = nil
			m.resetCachesLocked()
			return nil
		}
	}

	config, err := clientcmd.LoadFromFile(m.kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	m.rawConfig = config
	m.resetCachesLocked()
	return nil
}

func (m *MultiClusterClient) resetCachesLocked() {
	m.clients = make(map[string]kubernetes.Interface)
	m.dynamicClients = make(map[string]dynamic.Interface)
	m.metricsClients = make(map[string]PodMetricsAPI)
	m.configs = make(map[string]*rest.Config)
	m.healthCache = make(map[string]*ClusterHealth)
	m.cacheTime = make(map[string]time.Time)
}

// StartWatching reloads the kubeconfig when it changes. fsnotify events are
// debounced, and a periodic mtime check catches writes fsnotify misses after
// atomic renames.
func (m *MultiClusterClient) StartWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.watcher = watcher
	m.stopWatch = make(chan struct{})

	if err := watcher.Add(m.kubeconfig); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch kubeconfig: %w", err)
	}

	// editors that save atomically replace the file, so watch the directory too
	if err := watcher.Add(filepath.Dir(m.kubeconfig)); err != nil {
		slog.Warn("could not watch kubeconfig directory", "error", err)
	}

	go m.watchLoop()
	slog.Info("watching kubeconfig for changes", "path", m.kubeconfig)
	return nil
}

// StopWatching stops the kubeconfig watcher.
func (m *MultiClusterClient) StopWatching() {
	if m.stopWatch != nil {
		close(m.stopWatch)
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// SetOnReload sets a callback run after every successful kubeconfig reload.
func (m *MultiClusterClient) SetOnReload(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = callback
}

func (m *MultiClusterClient) reloadAndNotify() {
	if err := m.LoadConfig(); err != nil {
		slog.Error("kubeconfig reload failed", "error", err)
		return
	}
	slog.Info("kubeconfig reloaded")

	// the old inode watch is dead after an atomic write
	if m.watcher != nil {
		_ = m.watcher.Remove(m.kubeconfig)
		if err := m.watcher.Add(m.kubeconfig); err != nil {
			slog.Warn("could not re-watch kubeconfig", "error", err)
		}
	}

	m.mu.RLock()
	callback := m.onReload
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (m *MultiClusterClient) watchLoop() {
	var debounceTimer *time.Timer

	pollTicker := time.NewTicker(kubeconfigPollInterval)
	defer pollTicker.Stop()
	var lastModTime time.Time
	if info, err := os.Stat(m.kubeconfig); err == nil {
		lastModTime = info.ModTime()
	}

	triggerReload := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(kubeconfigDebounce, m.reloadAndNotify)
	}

	for {
		select {
		case <-m.stopWatch:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(m.kubeconfig) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if info, err := os.Stat(m.kubeconfig); err == nil {
					lastModTime = info.ModTime()
				}
				triggerReload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("kubeconfig watcher error", "error", err)
		case <-pollTicker.C:
			info, err := os.Stat(m.kubeconfig)
			if err != nil {
				continue
			}
			if info.ModTime() != lastModTime {
				lastModTime = info.ModTime()
				slog.Debug("kubeconfig change detected by poll")
				triggerReload()
			}
		}
	}
}

// ListClusters returns every context of the kubeconfig sorted by name.
func (m *MultiClusterClient) ListClusters(ctx context.Context) ([]ClusterInfo, error) {
	m.mu.RLock()
	rawConfig := m.rawConfig
	inClusterConfig := m.inClusterConfig
	m.mu.RUnlock()

	if rawConfig == nil && inClusterConfig == nil {
		if err := m.LoadConfig(); err != nil {
			return nil, err
		}
		m.mu.RLock()
		rawConfig = m.rawConfig
		m.mu.RUnlock()
	}

	var clusters []ClusterInfo
	if inClusterConfig != nil {
		clusters = append(clusters, ClusterInfo{
			Name:      inClusterName,
			Context:   inClusterName,
			Server:    inClusterConfig.Host,
			Source:    inClusterName,
			IsCurrent: rawConfig == nil,
		})
	}

	if rawConfig != nil {
		for contextName, contextInfo := range rawConfig.Contexts {
			server := ""
			if cluster, ok := rawConfig.Clusters[contextInfo.Cluster]; ok {
				server = cluster.Server
			}
			clusters = append(clusters, ClusterInfo{
				Name:      contextName,
				Context:   contextName,
				Server:    server,
				User:      contextInfo.AuthInfo,
				Namespace: contextInfo.Namespace,
				Source:    "kubeconfig",
				IsCurrent: contextName == rawConfig.CurrentContext,
			})
		}
	}

	m.mu.RLock()
	for i := range clusters {
		clusters[i].Healthy, clusters[i].Reachable = true, true
		if h, ok := m.healthCache[clusters[i].Context]; ok {
			clusters[i].Healthy = h.Healthy
			clusters[i].Reachable = h.Reachable
			clusters[i].ErrorType = h.ErrorType
		}
	}
	m.mu.RUnlock()

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Name < clusters[j].Name
	})
	return clusters, nil
}

// DeduplicatedClusters returns one cluster per API server URL so a cluster
// reachable through several contexts is listed once. The friendlier context
// name wins.
func (m *MultiClusterClient) DeduplicatedClusters(ctx context.Context) ([]ClusterInfo, error) {
	clusters, err := m.ListClusters(ctx)
	if err != nil {
		return nil, err
	}

	byServer := make(map[string]ClusterInfo)
	var noServer []ClusterInfo
	for _, cl := range clusters {
		if cl.Server == "" {
			noServer = append(noServer, cl)
			continue
		}
		current, exists := byServer[cl.Server]
		if !exists || isBetterClusterName(cl.Name, current.Name) {
			byServer[cl.Server] = cl
		}
	}

	result := make([]ClusterInfo, 0, len(byServer)+len(noServer))
	for _, cl := range byServer {
		result = append(result, cl)
	}
	result = append(result, noServer...)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// isBetterClusterName prefers names without the "/" and ":" of generated
// context names, then shorter names.
func isBetterClusterName(candidate, current string) bool {
	candidateAuto := strings.Contains(candidate, "/") && strings.Contains(candidate, ":")
	currentAuto := strings.Contains(current, "/") && strings.Contains(current, ":")
	if !candidateAuto && currentAuto {
		return true
	}
	if candidateAuto && !currentAuto {
		return false
	}
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return candidate < current
}

// WarmupHealthCache probes every cluster once so that HealthyClusters can skip
// offline clusters from the first request on.
func (m *MultiClusterClient) WarmupHealthCache() {
	ctx, cancel := context.WithTimeout(context.Background(), clusterHealthCheckTimeout)
	defer cancel()

	clusters, err := m.DeduplicatedClusters(ctx)
	if err != nil {
		slog.Warn("health warmup: cannot list clusters", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, cl := range clusters {
		wg.Add(1)
		go func(contextName string) {
			defer wg.Done()
			m.probe(ctx, contextName)
		}(cl.Context)
	}
	wg.Wait()

	reachable, unreachable := 0, 0
	m.mu.RLock()
	for _, h := range m.healthCache {
		if h.Reachable {
			reachable++
		} else {
			unreachable++
		}
	}
	m.mu.RUnlock()
	slog.Info("health warmup done", "reachable", reachable, "unreachable", unreachable)
}

func (m *MultiClusterClient) probe(ctx context.Context, contextName string) {
	probeCtx, cancel := context.WithTimeout(ctx, clusterProbeTimeout)
	defer cancel()

	health := &ClusterHealth{
		Cluster:   contextName,
		CheckedAt: time.Now().Format(time.RFC3339),
	}

	client, err := m.GetClient(contextName)
	if err == nil {
		_, err = client.CoreV1().Namespaces().List(probeCtx, metav1.ListOptions{Limit: 1})
	}
	if err != nil {
		health.ErrorType = aggregate.ClassifyError(err.Error())
		health.ErrorMessage = err.Error()
		slog.Warn("cluster unreachable", "cluster", contextName, "errorType", health.ErrorType, "error", err)
	} else {
		health.Reachable = true
		health.Healthy = true
	}

	m.mu.Lock()
	m.healthCache[contextName] = health
	m.cacheTime[contextName] = time.Now()
	m.mu.Unlock()
}

// HealthyClusters splits the deduplicated clusters into those worth querying
// and those the health cache saw offline within the cache TTL. Clusters whose
// offline entry has gone stale are queried again and reprobed in the
// background.
func (m *MultiClusterClient) HealthyClusters(ctx context.Context) (healthy []ClusterInfo, offline []ClusterInfo, err error) {
	all, err := m.DeduplicatedClusters(ctx)
	if err != nil {
		return nil, nil, err
	}

	var stale []string
	m.mu.RLock()
	for _, cl := range all {
		h, ok := m.healthCache[cl.Context]
		switch {
		case !ok || h.Reachable:
			healthy = append(healthy, cl)
		case time.Since(m.cacheTime[cl.Context]) < m.cacheTTL:
			offline = append(offline, cl)
		default:
			healthy = append(healthy, cl)
			stale = append(stale, cl.Context)
		}
	}
	m.mu.RUnlock()

	for _, contextName := range stale {
		go m.reprobe(contextName)
	}
	return healthy, offline, nil
}

// reprobe refreshes one cluster's health entry unless a probe is running.
func (m *MultiClusterClient) reprobe(contextName string) {
	m.mu.Lock()
	if m.probing == nil {
		m.probing = make(map[string]bool)
	}
	if m.probing[contextName] {
		m.mu.Unlock()
		return
	}
	m.probing[contextName] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.probing, contextName)
		m.mu.Unlock()
	}()
	m.probe(context.Background(), contextName)
}

// GetClusterHealth returns the cached health of a cluster, refreshing it when
// the cache entry is older than the TTL.
func (m *MultiClusterClient) GetClusterHealth(ctx context.Context, contextName string) (*ClusterHealth, error) {
	m.mu.RLock()
	if health, ok := m.healthCache[contextName]; ok && time.Since(m.cacheTime[contextName]) < m.cacheTTL {
		m.mu.RUnlock()
		return health, nil
	}
	m.mu.RUnlock()

	now := time.Now().Format(time.RFC3339)
	client, err := m.GetClient(contextName)
	if errors.Is(err, ErrUnknownCluster) {
		return nil, err
	}
	if err != nil {
		return &ClusterHealth{
			Cluster:      contextName,
			ErrorType:    aggregate.ClassifyError(err.Error()),
			ErrorMessage: err.Error(),
			Issues:       []string{fmt.Sprintf("Failed to connect: %v", err)},
			CheckedAt:    now,
		}, nil
	}

	health := &ClusterHealth{Cluster: contextName, Healthy: true, Reachable: true, CheckedAt: now}

	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		health.Healthy = false
		health.Reachable = false
		health.ErrorType = aggregate.ClassifyError(err.Error())
		health.ErrorMessage = err.Error()
		health.Issues = append(health.Issues, fmt.Sprintf("Failed to list nodes: %v", err))
		return health, nil
	}

	health.NodeCount = len(nodes.Items)
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == "Ready" && cond.Status == "True" {
				health.ReadyNodes++
				break
			}
		}
	}
	if health.ReadyNodes < health.NodeCount {
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("%d/%d nodes not ready", health.NodeCount-health.ReadyNodes, health.NodeCount))
	}

	m.mu.Lock()
	m.healthCache[contextName] = health
	m.cacheTime[contextName] = time.Now()
	m.mu.Unlock()
	return health, nil
}

func (m *MultiClusterClient) restConfigLocked(contextName string) (*rest.Config, error) {
	if config, ok := m.configs[contextName]; ok {
		return config, nil
	}

	var config *rest.Config
	if contextName == inClusterName && m.inClusterConfig != nil {
		config = rest.CopyConfig(m.inClusterConfig)
	} else {
		if m.rawConfig != nil {
			if _, ok := m.rawConfig.Contexts[contextName]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownCluster, contextName)
			}
		}
		var err error
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: m.kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: contextName},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get config for context %s: %w", contextName, err)
		}
	}
	config.Timeout = k8sClientTimeout
	m.configs[contextName] = config
	return config, nil
}

// GetClient returns the typed client of a cluster.
func (m *MultiClusterClient) GetClient(contextName string) (kubernetes.Interface, error) {
	m.mu.RLock()
	if client, ok := m.clients[contextName]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := m.clients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for context %s: %w", contextName, err)
	}
	m.clients[contextName] = client
	return client, nil
}

// GetRestConfig returns a copy of the REST config of a cluster.
func (m *MultiClusterClient) GetRestConfig(contextName string) (*rest.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	return rest.CopyConfig(config), nil
}

// GetDynamicClient returns the dynamic client of a cluster.
func (m *MultiClusterClient) GetDynamicClient(contextName string) (dynamic.Interface, error) {
	m.mu.RLock()
	if client, ok := m.dynamicClients[contextName]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.dynamicClients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for context %s: %w", contextName, err)
	}
	m.dynamicClients[contextName] = client
	return client, nil
}

// GetPodMetricsAPI returns the metrics.k8s.io client of a cluster.
func (m *MultiClusterClient) GetPodMetricsAPI(contextName string) (PodMetricsAPI, error) {
	m.mu.RLock()
	if client, ok := m.metricsClients[contextName]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.metricsClients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	cs, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client for context %s: %w", contextName, err)
	}
	api := NewPodMetricsAPI(cs.MetricsV1beta1())
	m.metricsClients[contextName] = api
	return api, nil
}

// formatAge formats a time.Time as a human-readable age string
func formatAge(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatDuration(time.Since(t))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
