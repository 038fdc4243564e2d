package types

import "strings"

// JobID identifies a persisted Job Definition or Scheduled Entry.
type JobID string

// RunID identifies one concrete dispatch of a job. Progress state is
// namespaced by RunID, never by JobID directly.
type RunID string

// OnDemandRun returns the run id used when a job is dispatched directly
// rather than by a scheduled firing.
func (id JobID) OnDemandRun() RunID {
	return RunID(id)
}

func (id JobID) String() string { return string(id) }

func (id RunID) String() string { return string(id) }

// JobKind distinguishes scan tasks from projects.
type JobKind string

const (
	JobKindTask    JobKind = "task"
	JobKindProject JobKind = "project"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k == JobKindTask || k == JobKindProject
}

const (
	// PageMonitoringID is the fixed Scheduled Entry id of the page monitoring job.
	PageMonitoringID JobID = "page_monitoring"
	// DeduplicationID is the fixed Scheduled Entry id of the periodic dedup run.
	DeduplicationID JobID = "deduplication"
)

// ScanOptions are the per-phase toggles carried by a Job Definition.
type ScanOptions struct {
	SubdomainScan     bool     `bson:"subdomainScan" json:"subdomainScan"`
	Subfinder         bool     `bson:"subfinder" json:"subfinder"`
	Ksubdomain        bool     `bson:"ksubdomain" json:"ksubdomain"`
	UrlScan           bool     `bson:"urlScan" json:"urlScan"`
	Duplicates        bool     `bson:"duplicates" json:"duplicates"`
	SensitiveInfoScan bool     `bson:"sensitiveInfoScan" json:"sensitiveInfoScan"`
	PageMonitoring    string   `bson:"pageMonitoring" json:"pageMonitoring"`
	CrawlerScan       bool     `bson:"crawlerScan" json:"crawlerScan"`
	VulScan           bool     `bson:"vulScan" json:"vulScan"`
	VulList           []string `bson:"vulList" json:"vulList"`
	PortScan          bool     `bson:"portScan" json:"portScan"`
	Ports             string   `bson:"ports" json:"ports"`
	Waybackurl        bool     `bson:"waybackurl" json:"waybackurl"`
	DirScan           bool     `bson:"dirScan" json:"dirScan"`
}

// Job status values stored on task documents.
const (
	JobStatusRunning = 1
	JobStatusPaused  = 2
)

// JobDefinition is a persisted task or project.
type JobDefinition struct {
	ID         JobID    `bson:"-" json:"id"`
	Kind       JobKind  `bson:"-" json:"kind"`
	Name       string   `bson:"name" json:"name"`
	Target     string   `bson:"target" json:"target"`
	Ignore     string   `bson:"ignore" json:"ignore"`
	Node       []string `bson:"node" json:"node"`
	AllNode    bool     `bson:"allNode" json:"allNode"`
	TaskNum    int      `bson:"taskNum" json:"taskNum"`
	Progress   float64  `bson:"progress" json:"progress"`
	Status     int      `bson:"status" json:"status"`
	CreateTime string   `bson:"creatTime" json:"creatTime"`
	EndTime    string   `bson:"endTime" json:"endTime"`

	ScanOptions `bson:",inline"`
}

// Targets splits the newline-delimited target field.
func (j *JobDefinition) Targets() []string {
	return strings.Split(j.Target, "\n")
}

// CycleType selects how a Scheduled Entry computes its next firing.
type CycleType string

const (
	CycleInterval CycleType = ""
	CycleCron     CycleType = "cron"
)

// EntryType is the stored type of a Scheduled Entry.
type EntryType string

const (
	EntryTypeScan           EntryType = "Scan"
	EntryTypeProject        EntryType = "Project"
	EntryTypePageMonitoring EntryType = "page_monitoring"
)

// JobKind returns the kind of Job Definition an entry fires.
func (t EntryType) JobKind() (JobKind, bool) {
	switch t {
	case EntryTypeScan:
		return JobKindTask, true
	case EntryTypeProject:
		return JobKindProject, true
	}
	return "", false
}

// ScheduledEntry is a persisted recurring trigger wrapping a Job Definition.
type ScheduledEntry struct {
	ID        JobID     `bson:"id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Type      EntryType `bson:"type" json:"type"`
	Hour      int       `bson:"hour" json:"hour"`
	CycleType CycleType `bson:"cycleType" json:"cycleType"`
	Cron      string    `bson:"cron" json:"cron"`
	State     bool      `bson:"state" json:"state"`
	Node      []string  `bson:"node" json:"node"`
	AllNode   bool      `bson:"allNode" json:"allNode"`
	LastTime  string    `bson:"lastTime" json:"lastTime"`
	NextTime  string    `bson:"nextTime" json:"nextTime"`
	RunnerID  RunID     `bson:"runner_id" json:"runnerId"`
}

// PageMonitorTarget is one monitored URL as handed to nodes.
type PageMonitorTarget struct {
	URL        string `bson:"url" json:"url"`
	Hash       string `bson:"hash" json:"hash"`
	StatusCode int    `bson:"statusCode" json:"statusCode"`
	MD5        string `bson:"md5" json:"md5"`
}
