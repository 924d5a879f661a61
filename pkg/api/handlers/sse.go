package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/view"
)

const maxResponseDeadline = 30 * time.Second

// SSE event names
const (
	EventClusterData = "cluster_data"
	EventDone        = "done"
)

// ClusterEvent is the payload of one cluster_data event.
type ClusterEvent struct {
	aggregate.Outcome
	Kind  string          `json:"kind"`
	Items []models.Object `json:"items"`
}

// DoneEvent is the payload of the final done event.
type DoneEvent struct {
	TotalClusters     int `json:"totalClusters"`
	CompletedClusters int `json:"completedClusters"`
	FailedClusters    int `json:"failedClusters"`
}

// writeSSEEvent writes one SSE event to the buffered writer and flushes.
func writeSSEEvent(w *bufio.Writer, eventName string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Error("sse marshal failed", "event", eventName, "error", err)
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, jsonData); err != nil {
		return err
	}
	return w.Flush()
}

// Stream sends one cluster_data event per cluster as soon as that cluster
// answers, then a done event. Failed and offline clusters are reported in
// their event with an empty item list. Items are filtered and sorted, not
// paginated.
// GET /api/resources/:resource/stream
func (h *ResourceHandlers) Stream(c *fiber.Ctx) error {
	k, err := h.kindParam(c)
	if err != nil {
		return err
	}
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	clusters, offline, err := h.targetClusters(c.UserContext(), q.Clusters)
	if err != nil {
		return err
	}
	namespace := ""
	if k.Namespaced {
		namespace = q.Namespace
	}
	q.Clusters = nil

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), maxResponseDeadline)
		defer cancel()

		done := DoneEvent{TotalClusters: len(clusters) + len(offline)}
		send := func(outcome aggregate.Outcome, items []models.Object) {
			event := ClusterEvent{Outcome: outcome, Kind: k.Name, Items: []models.Object{}}
			if outcome.OK() {
				event.Items = view.Filter(items, q)
				view.Sort(event.Items, q.SortBy, q.Desc)
				event.Count = len(event.Items)
			} else {
				done.FailedClusters++
			}
			done.CompletedClusters++
			if err := writeSSEEvent(w, EventClusterData, event); err != nil {
				// client went away
				cancel()
			}
		}

		for _, outcome := range offline {
			send(outcome, nil)
		}
		err := h.k8sClient.StreamAll(ctx, k.Name, clusters, namespace, func(_ int, outcome aggregate.Outcome, items []models.Object) {
			send(outcome, items)
		})
		if err != nil {
			h.logger.Warn("stream failed", "kind", k.Name, "error", err)
		}
		if ctx.Err() == context.DeadlineExceeded {
			h.logger.Warn("stream deadline reached", "kind", k.Name)
		}

		writeSSEEvent(w, EventDone, done)
	})

	return nil
}
