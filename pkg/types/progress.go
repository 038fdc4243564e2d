package types

// Phase is one scan stage with its own start/end timestamps.
type Phase string

const (
	PhaseSubdomain         Phase = "subdomain"
	PhaseSubdomainTakeover Phase = "subdomainTakeover"
	PhasePortScan          Phase = "portScan"
	PhaseAssetMapping      Phase = "assetMapping"
	PhaseURLScan           Phase = "urlScan"
	PhaseSensitive         Phase = "sensitive"
	PhaseCrawler           Phase = "crawler"
	PhaseDirScan           Phase = "dirScan"
	PhaseVulnerability     Phase = "vulnerability"
	PhaseAll               Phase = "all"
)

// Phases lists every phase in report order.
var Phases = []Phase{
	PhaseSubdomain,
	PhaseSubdomainTakeover,
	PhasePortScan,
	PhaseAssetMapping,
	PhaseURLScan,
	PhaseSensitive,
	PhaseCrawler,
	PhaseDirScan,
	PhaseVulnerability,
	PhaseAll,
}

// HashField returns the progress hash field prefix written by agents.
// The overall phase is stored as scan_start/scan_end.
func (p Phase) HashField() string {
	if p == PhaseAll {
		return "scan"
	}
	return string(p)
}

// PhaseStatus is derived from which timestamps are present.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseRunning    PhaseStatus = "running"
	PhaseFinished   PhaseStatus = "finished"
)

// PhaseSpan is a (start, end) timestamp pair.
type PhaseSpan struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Status classifies the span.
func (s PhaseSpan) Status() PhaseStatus {
	switch {
	case s.Start == "":
		return PhaseNotStarted
	case s.End == "":
		return PhaseRunning
	default:
		return PhaseFinished
	}
}

// TargetProgress is the per-target progress report.
type TargetProgress struct {
	Target string              `json:"target"`
	Phases map[Phase]PhaseSpan `json:"phases"`
}
