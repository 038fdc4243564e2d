package types

import (
	"errors"
	"strings"
)

const (
	// DescriptorTypeScan is the type of every scan job descriptor.
	DescriptorTypeScan = "scan"
	// VulListAll is the sentinel meaning every vulnerability template.
	VulListAll = "All"
)

// JobDescriptor is the wire format pushed onto NodeTask:<name>.
// Field names are part of the agent protocol.
type JobDescriptor struct {
	TaskId            string   `json:"TaskId"`
	SubdomainScan     bool     `json:"SubdomainScan"`
	Subfinder         bool     `json:"Subfinder"`
	Ksubdomain        bool     `json:"Ksubdomain"`
	UrlScan           bool     `json:"UrlScan"`
	Duplicates        bool     `json:"Duplicates"`
	SensitiveInfoScan bool     `json:"SensitiveInfoScan"`
	PageMonitoring    string   `json:"PageMonitoring"`
	CrawlerScan       bool     `json:"CrawlerScan"`
	VulScan           bool     `json:"VulScan"`
	VulList           []string `json:"VulList"`
	PortScan          bool     `json:"PortScan"`
	Ports             string   `json:"Ports"`
	Waybackurl        bool     `json:"Waybackurl"`
	DirScan           bool     `json:"DirScan"`
	Type              string   `json:"type"`
	// IsStart marks a paused run being resumed; agents skip target setup.
	IsStart bool `json:"isStart"`
}

// NewJobDescriptor translates scan options into the wire descriptor for run.
func NewJobDescriptor(run RunID, opts ScanOptions) *JobDescriptor {
	vulList := opts.VulList
	for _, v := range vulList {
		if strings.EqualFold(v, VulListAll) {
			vulList = []string{VulListAll}
			break
		}
	}
	if vulList == nil {
		vulList = []string{}
	}
	return &JobDescriptor{
		TaskId:            string(run),
		SubdomainScan:     opts.SubdomainScan,
		Subfinder:         opts.Subfinder,
		Ksubdomain:        opts.Ksubdomain,
		UrlScan:           opts.UrlScan,
		Duplicates:        opts.Duplicates,
		SensitiveInfoScan: opts.SensitiveInfoScan,
		PageMonitoring:    opts.PageMonitoring,
		CrawlerScan:       opts.CrawlerScan,
		VulScan:           opts.VulScan,
		VulList:           vulList,
		PortScan:          opts.PortScan,
		Ports:             opts.Ports,
		Waybackurl:        opts.Waybackurl,
		DirScan:           opts.DirScan,
		Type:              DescriptorTypeScan,
	}
}

// Validate checks the fields an agent cannot work without.
func (d *JobDescriptor) Validate() error {
	if d.TaskId == "" {
		return errors.New("TaskId is required")
	}
	if d.Type != DescriptorTypeScan {
		return errors.New("type must be " + DescriptorTypeScan)
	}
	if d.PortScan && d.Ports == "" {
		return errors.New("Ports is required when PortScan is enabled")
	}
	if d.VulScan && len(d.VulList) == 0 {
		return errors.New("VulList is required when VulScan is enabled")
	}
	return nil
}

// PageMonitorDescriptor is the descriptor pushed for the page monitoring job.
type PageMonitorDescriptor struct {
	ID   string `json:"ID"`
	Type string `json:"type"`
}
