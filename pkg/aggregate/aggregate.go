// Package aggregate fans a fetch out to many clusters and merges the results.
//
// A cluster whose fetch fails, times out or panics contributes an empty list;
// the remaining clusters are unaffected.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultClusterTimeout bounds one cluster's fetch when Options.ClusterTimeout is unset.
const DefaultClusterTimeout = 10 * time.Second

// Outcome reports how one cluster's fetch went.
type Outcome struct {
	Cluster   string `json:"cluster"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"` // timeout, auth, network, certificate, unknown
	Duration  int64  `json:"durationMs"`
}

// OK reports whether the cluster's fetch succeeded.
func (o Outcome) OK() bool { return o.Error == "" }

// Result is the merged output of Collect.
type Result[T any] struct {
	Items    []T       `json:"items"`
	Outcomes []Outcome `json:"clusters"`
}

// Failed returns the clusters whose fetch failed.
func (r Result[T]) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Observer is notified after every cluster fetch.
type Observer interface {
	ObserveClusterFetch(cluster string, elapsed time.Duration, err error)
}

// Options tune Collect.
type Options struct {
	// ClusterTimeout bounds each cluster's fetch. Zero means 10s.
	ClusterTimeout time.Duration
	Observer       Observer
	Logger         *slog.Logger
}

// FetchFunc loads the items of one cluster.
type FetchFunc[T any] func(ctx context.Context, cluster string) ([]T, error)

// Collect runs fetch for every cluster in parallel and returns the union of
// their items in cluster order. It never returns an error: failures are
// reported per cluster in Result.Outcomes.
func Collect[T any](ctx context.Context, clusters []string, opts Options, fetch FetchFunc[T]) Result[T] {
	perCluster := make([][]T, len(clusters))
	outcomes := make([]Outcome, len(clusters))

	Stream(ctx, clusters, opts, fetch, func(i int, outcome Outcome, items []T) {
		perCluster[i] = items
		outcomes[i] = outcome
	})

	total := 0
	for _, items := range perCluster {
		total += len(items)
	}
	merged := make([]T, 0, total)
	for _, items := range perCluster {
		merged = append(merged, items...)
	}

	return Result[T]{Items: merged, Outcomes: outcomes}
}

// EmitFunc receives one cluster's outcome. i is the cluster's index in the
// clusters passed to Stream.
type EmitFunc[T any] func(i int, outcome Outcome, items []T)

// Stream runs fetch for every cluster in parallel and calls emit once per
// cluster as soon as it finishes. Calls to emit are serialized. Stream
// returns after every cluster has been emitted.
func Stream[T any](ctx context.Context, clusters []string, opts Options, fetch FetchFunc[T], emit EmitFunc[T]) {
	timeout := opts.ClusterTimeout
	if timeout <= 0 {
		timeout = DefaultClusterTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i, cluster := range clusters {
		wg.Add(1)
		go func(i int, cluster string) {
			defer wg.Done()

			start := time.Now()
			items, err := fetchIsolated(ctx, cluster, timeout, fetch)
			elapsed := time.Since(start)

			outcome := Outcome{Cluster: cluster, Duration: elapsed.Milliseconds()}
			if err != nil {
				outcome.Error = err.Error()
				outcome.ErrorType = ClassifyError(err.Error())
				logger.Warn("cluster fetch failed", "cluster", cluster, "errorType", outcome.ErrorType, "error", err)
				items = nil
			}
			outcome.Count = len(items)

			if opts.Observer != nil {
				opts.Observer.ObserveClusterFetch(cluster, elapsed, err)
			}

			mu.Lock()
			defer mu.Unlock()
			emitIsolated(logger, emit, i, outcome, items)
		}(i, cluster)
	}
	wg.Wait()
}

func emitIsolated[T any](logger *slog.Logger, emit EmitFunc[T], i int, outcome Outcome, items []T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("cluster result handler panicked", "cluster", outcome.Cluster, "panic", r)
		}
	}()
	emit(i, outcome, items)
}

// Offline is the outcome of a cluster skipped because it is known to be
// unreachable.
func Offline(cluster, errorType string) Outcome {
	if errorType == "" {
		errorType = "unknown"
	}
	return Outcome{
		Cluster:   cluster,
		Error:     fmt.Sprintf("cluster %s is offline", cluster),
		ErrorType: errorType,
	}
}

func fetchIsolated[T any](ctx context.Context, cluster string, timeout time.Duration, fetch FetchFunc[T]) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = fmt.Errorf("panic while fetching cluster %s: %v", cluster, r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fetch(fetchCtx, cluster)
}

// ClassifyError determines the error type from an error message
func ClassifyError(errMsg string) string {
	lowerMsg := strings.ToLower(errMsg)

	// Timeout errors
	if strings.Contains(lowerMsg, "timeout") ||
		strings.Contains(lowerMsg, "deadline exceeded") ||
		strings.Contains(lowerMsg, "context deadline") {
		return "timeout"
	}

	// Auth errors
	if strings.Contains(lowerMsg, "401") ||
		strings.Contains(lowerMsg, "403") ||
		strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "forbidden") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "token expired") {
		return "auth"
	}

	// Network errors
	if strings.Contains(lowerMsg, "connection refused") ||
		strings.Contains(lowerMsg, "no route to host") ||
		strings.Contains(lowerMsg, "network unreachable") ||
		strings.Contains(lowerMsg, "dial tcp") ||
		strings.Contains(lowerMsg, "no such host") {
		return "network"
	}

	// Certificate errors
	if strings.Contains(lowerMsg, "x509") ||
		strings.Contains(lowerMsg, "tls") ||
		strings.Contains(lowerMsg, "certificate") {
		return "certificate"
	}

	return "unknown"
}
