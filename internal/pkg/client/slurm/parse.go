package slurm

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// parseSinfo reads `sinfo -h -N -o "%N %T"` output: one "<node> <state>" line
// per partition membership. The first occurrence of a node wins.
func parseSinfo(output string) map[string]string {
	states := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		name, state := fields[0], strings.ToLower(fields[1])
		if _, seen := states[name]; !seen {
			states[name] = state
		}
	}
	return states
}

var tresGPURe = regexp.MustCompile(`gres/gpu(?:[:=][^:=,]+)?[:=](\d+)`)
var gresGPURe = regexp.MustCompile(`gpu(?::[^:,(]+)?:(\d+)`)

// parseNodeDetail reads `scontrol show node` output. Blocks are separated by
// blank lines; within a block, fields are whitespace-separated Key=Value
// tokens spread over several lines.
func parseNodeDetail(output string) model.NodeRecords {
	records := make(model.NodeRecords, 0)
	for _, block := range strings.Split(output, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var rec model.NodeRecord
		for _, token := range strings.Fields(block) {
			key, value, ok := strings.Cut(token, "=")
			if !ok {
				continue
			}
			switch key {
			case "NodeName":
				rec.NodeName = value
			case "State":
				rec.RawState = strings.ToLower(value)
			case "Partitions":
				rec.Partitions = splitList(value)
			case "CPUTot":
				rec.CPUsTotal = parseInt(value)
			case "CPUAlloc":
				rec.CPUsAlloc = parseInt(value)
			case "RealMemory":
				rec.MemTotalMB = parseInt(value)
			case "AllocMem":
				rec.MemAllocMB = parseInt(value)
			case "Gres":
				if m := gresGPURe.FindStringSubmatch(value); m != nil {
					rec.GPUsTotal = parseInt(m[1])
				}
			case "AllocTRES":
				if m := tresGPURe.FindStringSubmatch(value); m != nil {
					rec.GPUsAlloc = parseInt(m[1])
				}
			}
		}
		if rec.NodeName != "" {
			records = append(records, rec)
		}
	}
	return records
}

// parseQueue reads `squeue -t PD -h -o "%i|%P|%j|%u|%r|%C|%m|%b|%D|%V"`.
// Malformed lines are skipped rather than failing the whole queue.
func parseQueue(output string) (model.JobRecords, error) {
	jobs := make(model.JobRecords, 0)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 10 {
			continue
		}
		job := model.JobRecord{
			JobID:     strings.TrimSpace(parts[0]),
			Partition: strings.TrimSpace(parts[1]),
			Name:      strings.TrimSpace(parts[2]),
			User:      strings.TrimSpace(parts[3]),
			Reason:    strings.TrimSpace(parts[4]),
			CPUs:      parseInt(parts[5]),
			MemoryMB:  parseMemoryMB(parts[6]),
			GPUs:      parseGPURequest(parts[7]),
			Nodes:     parseInt(parts[8]),
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", strings.TrimSpace(parts[9])); err == nil {
			job.SubmittedAt = ts
		}
		jobs = append(jobs, job)
	}
	return jobs, scanner.Err()
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// parseMemoryMB converts squeue %m values ("4000M", "2G", "512000K") to MB.
// A bare number is already MB.
func parseMemoryMB(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1.0 / 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1024
		s = s[:len(s)-1]
	case 'T', 't':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(v * mult)
}

// parseGPURequest reads squeue %b values like "gres/gpu:2" or "gres/gpu:a100:4".
func parseGPURequest(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0
	}
	if m := tresGPURe.FindStringSubmatch(s); m != nil {
		return parseInt(m[1])
	}
	if m := gresGPURe.FindStringSubmatch(s); m != nil {
		return parseInt(m[1])
	}
	return 0
}

var hostlistRe = regexp.MustCompile(`^(\w+?)\[([0-9,-]+)\]$`)

// ExpandHostlist expands compressed scheduler nodelists: "spdr[01-03,07]"
// becomes spdr01, spdr02, spdr03, spdr07. Plain comma-separated lists and
// single names pass through. Parenthesised placeholders like "(null)" yield
// nothing.
func ExpandHostlist(nodelist string) ([]string, error) {
	nodelist = strings.TrimSpace(nodelist)
	if nodelist == "" || strings.HasPrefix(nodelist, "(") {
		return nil, nil
	}
	if !strings.Contains(nodelist, "[") {
		nodes := make([]string, 0)
		for _, n := range strings.Split(nodelist, ",") {
			if n = strings.TrimSpace(n); n != "" {
				nodes = append(nodes, n)
			}
		}
		return nodes, nil
	}
	m := hostlistRe.FindStringSubmatch(nodelist)
	if m == nil {
		return nil, fmt.Errorf("unsupported nodelist format: %q", nodelist)
	}
	prefix, ranges := m[1], m[2]
	nodes := make([]string, 0)
	for _, part := range strings.Split(ranges, ",") {
		start, end, isRange := strings.Cut(part, "-")
		if !isRange {
			nodes = append(nodes, prefix+part)
			continue
		}
		lo, err1 := strconv.Atoi(start)
		hi, err2 := strconv.Atoi(end)
		if err1 != nil || err2 != nil || hi < lo {
			return nil, fmt.Errorf("bad range %q in nodelist %q", part, nodelist)
		}
		width := len(start)
		for i := lo; i <= hi; i++ {
			nodes = append(nodes, fmt.Sprintf("%s%0*d", prefix, width, i))
		}
	}
	return nodes, nil
}
