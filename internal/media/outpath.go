package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Placement is the resolved output location for a job.
type Placement struct {
	Path string
	// Skip is set when the on-exists policy is "skip" and the target already
	// exists. The job completes without launching a process.
	Skip bool
}

// PlanOutput resolves where a job's output lands, applying the on-exists
// policy. Policies: "overwrite" reuses the path, "skip" marks the job as
// skippable, "rename" appends " (N)" before the extension until the name is
// free.
func PlanOutput(job Job, policy string) (Placement, error) {
	base := strings.TrimSuffix(filepath.Base(job.SourcePath), filepath.Ext(job.SourcePath))
	if base == "" {
		return Placement{}, fmt.Errorf("cannot derive output name from %q", job.SourcePath)
	}
	path := filepath.Join(job.DestDir, base+"."+job.Format)

	if !fileExists(path) {
		return Placement{Path: path}, nil
	}

	switch policy {
	case "overwrite":
		return Placement{Path: path}, nil
	case "skip":
		return Placement{Path: path, Skip: true}, nil
	case "rename":
		renamed, err := nextFreeName(job.DestDir, base, job.Format)
		if err != nil {
			return Placement{}, err
		}
		return Placement{Path: renamed}, nil
	default:
		return Placement{}, fmt.Errorf("unknown on-exists policy %q", policy)
	}
}

func nextFreeName(dir, base, format string) (string, error) {
	for n := 1; n < 10000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d).%s", base, n, format))
		if !fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free output name for %s in %s", base, dir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
