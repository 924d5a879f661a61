package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeployment(t *testing.T) {
	progressStalled := []Condition{{Type: "Progressing", Status: "False", Reason: "ProgressDeadlineExceeded"}}
	progressing := []Condition{{Type: "Progressing", Status: "True", Reason: "NewReplicaSetAvailable"}}

	tests := []struct {
		name       string
		counts     Counts
		conditions []Condition
		want       Status
	}{
		{"all replicas converged", Counts{3, 3, 3, 3, 3}, progressing, Running},
		{"scaled to zero", Counts{0, 0, 0, 0, 0}, nil, Running},
		{"progress deadline exceeded wins over counts", Counts{3, 3, 3, 3, 3}, progressStalled, Stalled},
		{"nothing available", Counts{3, 3, 0, 0, 3}, nil, Unavailable},
		{"scaling up", Counts{5, 3, 3, 3, 3}, nil, Scaling},
		{"scaling down", Counts{1, 3, 3, 3, 3}, nil, Scaling},
		{"new template rolling out", Counts{3, 3, 3, 3, 1}, nil, Updating},
		{"pods not yet ready", Counts{3, 3, 2, 2, 3}, nil, Updating},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Deployment(tt.counts, tt.conditions))
		})
	}
}

func TestReplicaSet(t *testing.T) {
	tests := []struct {
		name       string
		counts     Counts
		conditions []Condition
		want       Status
	}{
		{"ready", Counts{Desired: 2, Current: 2, Ready: 2, Available: 2}, nil, Ready},
		{"old replica set at zero", Counts{}, nil, Ready},
		{"replica failure", Counts{Desired: 2, Current: 1, Ready: 1}, []Condition{{Type: "ReplicaFailure", Status: "True"}}, Degraded},
		{"none ready", Counts{Desired: 2, Current: 2}, nil, NotReady},
		{"creating pods", Counts{Desired: 3, Current: 2, Ready: 2}, nil, Scaling},
		{"waiting for readiness", Counts{Desired: 3, Current: 3, Ready: 1}, nil, Scaling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplicaSet(tt.counts, tt.conditions))
		})
	}
}

func TestDaemonSet(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		want   Status
	}{
		{"all nodes ready", Counts{5, 5, 5, 5, 5}, Ready},
		{"no matching nodes", Counts{}, Ready},
		{"none ready", Counts{5, 5, 0, 0, 5}, NotReady},
		{"scheduling onto new node", Counts{6, 5, 5, 5, 5}, Scaling},
		{"rolling update", Counts{5, 5, 5, 5, 2}, Updating},
		{"some nodes unavailable", Counts{5, 5, 4, 4, 5}, Degraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaemonSet(tt.counts))
		})
	}
}

func TestStatefulSet(t *testing.T) {
	tests := []struct {
		name            string
		counts          Counts
		currentRevision string
		updateRevision  string
		want            Status
	}{
		{"ready", Counts{3, 3, 3, 3, 3}, "web-1", "web-1", Ready},
		{"none ready", Counts{3, 3, 0, 0, 3}, "web-1", "web-1", NotReady},
		{"scaling", Counts{3, 2, 2, 2, 2}, "web-1", "web-1", Scaling},
		{"partitioned rollout", Counts{3, 3, 3, 3, 1}, "web-1", "web-2", Updating},
		{"revision mismatch only", Counts{3, 3, 3, 3, 3}, "web-1", "web-2", Updating},
		{"one replica down", Counts{3, 3, 2, 2, 3}, "web-1", "web-1", Degraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatefulSet(tt.counts, tt.currentRevision, tt.updateRevision))
		})
	}
}

func TestJob(t *testing.T) {
	tests := []struct {
		name string
		job  JobState
		want Status
	}{
		{"failed condition", JobState{Completions: 1, Failed: 6, Conditions: []Condition{{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded"}}}, Failed},
		{"complete condition", JobState{Completions: 1, Succeeded: 1, Conditions: []Condition{{Type: "Complete", Status: "True"}}}, Complete},
		{"succeeded count reached", JobState{Completions: 3, Succeeded: 3}, Complete},
		{"suspended", JobState{Completions: 1, Suspended: true}, Suspended},
		{"active pods", JobState{Completions: 3, Succeeded: 1, Active: 2}, Running},
		{"nothing started", JobState{Completions: 1}, Pending},
		{"failed pods but retrying", JobState{Completions: 1, Failed: 1, Active: 1}, Running},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Job(tt.job))
		})
	}
}

func TestPod(t *testing.T) {
	tests := []struct {
		name string
		pod  PodState
		want Status
	}{
		{"running and ready", PodState{Phase: "Running", ReadyContainers: 2, TotalContainers: 2}, Running},
		{"running not ready", PodState{Phase: "Running", ReadyContainers: 1, TotalContainers: 2}, NotReady},
		{"crash looping", PodState{Phase: "Running", WaitingReasons: []string{"CrashLoopBackOff"}, TotalContainers: 1}, CrashLoopBackOff},
		{"image pull", PodState{Phase: "Pending", WaitingReasons: []string{"ContainerCreating", "ImagePullBackOff"}}, ImagePullBackOff},
		{"benign waiting reason", PodState{Phase: "Pending", WaitingReasons: []string{"ContainerCreating"}}, Pending},
		{"terminating wins", PodState{Phase: "Running", Deleting: true, WaitingReasons: []string{"CrashLoopBackOff"}}, Terminating},
		{"succeeded", PodState{Phase: "Succeeded"}, Complete},
		{"failed", PodState{Phase: "Failed"}, Failed},
		{"unknown phase", PodState{Phase: ""}, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Pod(tt.pod))
		})
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, SeverityOK, Running.Severity())
	assert.Equal(t, SeverityOK, Complete.Severity())
	assert.Equal(t, SeverityWarning, Scaling.Severity())
	assert.Equal(t, SeverityError, Stalled.Severity())
	assert.Equal(t, SeverityError, CrashLoopBackOff.Severity())
	assert.Equal(t, SeverityNeutral, Status("").Severity())
}
