// Package status derives the rollout/scaling label shown for each resource
// kind from its replica counts and conditions.
//
// Every kind has exactly one rule chain. Rules are evaluated in order and the
// first match wins.
package status

// Status is a derived, human-facing resource state label.
type Status string

const (
	Running     Status = "Running"
	Ready       Status = "Ready"
	Scaling     Status = "Scaling"
	Updating    Status = "Updating"
	Unavailable Status = "Unavailable"
	NotReady    Status = "NotReady"
	Stalled     Status = "Stalled"
	Degraded    Status = "Degraded"
	Suspended   Status = "Suspended"
	Pending     Status = "Pending"
	Complete    Status = "Complete"
	Failed      Status = "Failed"
	Terminating Status = "Terminating"
	Unknown     Status = "Unknown"

	CrashLoopBackOff           Status = "CrashLoopBackOff"
	ImagePullBackOff           Status = "ImagePullBackOff"
	ErrImagePull               Status = "ErrImagePull"
	CreateContainerConfigError Status = "CreateContainerConfigError"
)

// Severity groups labels for coloring and toast levels.
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityNeutral Severity = "neutral"
)

// Severity returns how alarming the label is.
func (s Status) Severity() Severity {
	switch s {
	case Running, Ready, Complete:
		return SeverityOK
	case Scaling, Updating, Pending, Suspended, Terminating, NotReady:
		return SeverityWarning
	case Unavailable, Stalled, Degraded, Failed,
		CrashLoopBackOff, ImagePullBackOff, ErrImagePull, CreateContainerConfigError:
		return SeverityError
	default:
		return SeverityNeutral
	}
}

// Counts are the replica numbers a workload reports.
//
// For DaemonSets "replicas" means scheduled pods: Desired is
// desiredNumberScheduled, Current is currentNumberScheduled and so on.
type Counts struct {
	Desired   int32 `json:"desired"`
	Current   int32 `json:"current"`
	Ready     int32 `json:"ready"`
	Available int32 `json:"available"`
	Updated   int32 `json:"updated"`
}

// Condition is the subset of a Kubernetes status condition the classifiers read.
type Condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func findCondition(conditions []Condition, condType string) (Condition, bool) {
	for _, c := range conditions {
		if c.Type == condType {
			return c, true
		}
	}
	return Condition{}, false
}

func conditionIs(conditions []Condition, condType, want string) bool {
	c, ok := findCondition(conditions, condType)
	return ok && c.Status == want
}

// Deployment classifies a Deployment.
func Deployment(c Counts, conditions []Condition) Status {
	switch {
	case conditionIs(conditions, "Progressing", "False"):
		return Stalled
	case c.Desired > 0 && c.Available == 0:
		return Unavailable
	case c.Current != c.Desired:
		return Scaling
	case c.Updated < c.Desired:
		return Updating
	case c.Ready < c.Desired || c.Available < c.Desired:
		return Updating
	default:
		return Running
	}
}

// ReplicaSet classifies a ReplicaSet.
func ReplicaSet(c Counts, conditions []Condition) Status {
	switch {
	case conditionIs(conditions, "ReplicaFailure", "True"):
		return Degraded
	case c.Desired > 0 && c.Ready == 0:
		return NotReady
	case c.Current != c.Desired:
		return Scaling
	case c.Ready < c.Desired:
		return Scaling
	default:
		return Ready
	}
}

// DaemonSet classifies a DaemonSet.
func DaemonSet(c Counts) Status {
	switch {
	case c.Desired > 0 && c.Ready == 0:
		return NotReady
	case c.Current != c.Desired:
		return Scaling
	case c.Updated < c.Desired:
		return Updating
	case c.Ready < c.Desired || c.Available < c.Desired:
		return Degraded
	default:
		return Ready
	}
}

// StatefulSet classifies a StatefulSet. currentRevision and updateRevision
// come from the StatefulSet status; a mismatch means a rollout is underway.
func StatefulSet(c Counts, currentRevision, updateRevision string) Status {
	switch {
	case c.Desired > 0 && c.Ready == 0:
		return NotReady
	case c.Current != c.Desired:
		return Scaling
	case c.Updated < c.Desired:
		return Updating
	case updateRevision != "" && currentRevision != updateRevision:
		return Updating
	case c.Ready < c.Desired:
		return Degraded
	default:
		return Ready
	}
}

// JobState carries the Job fields the classifier needs.
type JobState struct {
	Completions int32
	Succeeded   int32
	Failed      int32
	Active      int32
	Suspended   bool
	Conditions  []Condition
}

// Job classifies a Job.
func Job(j JobState) Status {
	switch {
	case conditionIs(j.Conditions, "Failed", "True"):
		return Failed
	case conditionIs(j.Conditions, "Complete", "True"):
		return Complete
	case j.Completions > 0 && j.Succeeded >= j.Completions:
		return Complete
	case j.Suspended:
		return Suspended
	case j.Active > 0:
		return Running
	default:
		return Pending
	}
}

// PodState carries the Pod fields the classifier needs.
type PodState struct {
	Phase           string
	Deleting        bool
	WaitingReasons  []string
	ReadyContainers int
	TotalContainers int
}

var blockingWaitReasons = map[string]Status{
	"CrashLoopBackOff":           CrashLoopBackOff,
	"ImagePullBackOff":           ImagePullBackOff,
	"ErrImagePull":               ErrImagePull,
	"CreateContainerConfigError": CreateContainerConfigError,
}

// Pod classifies a Pod.
func Pod(p PodState) Status {
	if p.Deleting {
		return Terminating
	}
	for _, reason := range p.WaitingReasons {
		if s, ok := blockingWaitReasons[reason]; ok {
			return s
		}
	}
	switch p.Phase {
	case "Failed":
		return Failed
	case "Succeeded":
		return Complete
	case "Pending":
		return Pending
	case "Running":
		if p.ReadyContainers < p.TotalContainers {
			return NotReady
		}
		return Running
	default:
		return Unknown
	}
}
