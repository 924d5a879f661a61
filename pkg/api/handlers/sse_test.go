package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestStream(t *testing.T) {
	env := setupResourceEnv(t, nil)
	injectCluster(env, "alpha", testPod("default", "a-1"), testPod("kube-system", "a-2"))
	failLists(injectCluster(env, "beta"), errors.New("Unauthorized"))

	resp := env.do(t, http.MethodGet, "/api/resources/pods/stream?namespace=default", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.Len(t, events, 3)

	byCluster := map[string]ClusterEvent{}
	for _, ev := range events[:2] {
		require.Equal(t, EventClusterData, ev.name)
		var data ClusterEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &data))
		byCluster[data.Cluster] = data
	}

	alpha := byCluster["alpha"]
	assert.Empty(t, alpha.Error)
	assert.Equal(t, "pods", alpha.Kind)
	assert.Equal(t, 1, alpha.Count)

	beta := byCluster["beta"]
	assert.Equal(t, "auth", beta.ErrorType)
	assert.Equal(t, 0, beta.Count)

	done := events[2]
	require.Equal(t, EventDone, done.name)
	var summary DoneEvent
	require.NoError(t, json.Unmarshal([]byte(done.data), &summary))
	assert.Equal(t, DoneEvent{TotalClusters: 2, CompletedClusters: 2, FailedClusters: 1}, summary)
}

func TestStream_ReportsOfflineClusters(t *testing.T) {
	env := setupResourceEnv(t, nil)
	injectCluster(env, "alpha", testPod("default", "a-1"))
	injectCluster(env, "beta", testPod("default", "b-1"))
	markOffline(env, "beta", errors.New("x509: certificate signed by unknown authority"))

	resp := env.do(t, http.MethodGet, "/api/resources/pods/stream", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp)
	require.Len(t, events, 3)

	var offline ClusterEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &offline))
	assert.Equal(t, "beta", offline.Cluster)
	assert.Equal(t, "certificate", offline.ErrorType)
	assert.Empty(t, offline.Items)

	var alpha ClusterEvent
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &alpha))
	assert.Equal(t, "alpha", alpha.Cluster)
	assert.Equal(t, 1, alpha.Count)

	var summary DoneEvent
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &summary))
	assert.Equal(t, DoneEvent{TotalClusters: 2, CompletedClusters: 2, FailedClusters: 1}, summary)
}

func TestStream_TokenInQuery(t *testing.T) {
	env := setupResourceEnv(t, nil)
	injectCluster(env, "alpha", testPod("default", "a-1"))

	resp := env.doAs(t, nil, http.MethodGet, "/api/resources/pods/stream?_token="+tokenFor(t, env.User), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, EventDone, events[1].name)
}

func TestStream_UnknownKind(t *testing.T) {
	env := setupResourceEnv(t, nil)
	injectCluster(env, "alpha")

	resp := env.do(t, http.MethodGet, "/api/resources/widgets/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
