package metrics

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/dustin/go-humanize"
)

// SysHealth represents real-time process and data directory metrics.
type SysHealth struct {
	Alloc        string
	TotalAlloc   string
	Sys          string
	NumGC        uint32
	Goroutines   int
	DataDiskSize string
	DataFiles    int
	Artifacts    int
}

// artifactName matches {SUBJECT}_{timestamp}.json report files.
var artifactName = regexp.MustCompile(`^[A-Z0-9.-]+_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(\.\d+)?Z\.json$`)

// GetSysHealth collects real-time health data. Artifacts counts the stored
// reports under dataPath; caches and other JSON files are not reports.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	size, files, artifacts := walkDataDir(dataPath)
	return SysHealth{
		Alloc:        humanize.IBytes(m.Alloc),
		TotalAlloc:   humanize.IBytes(m.TotalAlloc),
		Sys:          humanize.IBytes(m.Sys),
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DataDiskSize: humanize.IBytes(uint64(size)),
		DataFiles:    files,
		Artifacts:    artifacts,
	}
}

func walkDataDir(path string) (size int64, files, artifacts int) {
	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		size += info.Size()
		files++
		if artifactName.MatchString(info.Name()) {
			artifacts++
		}
		return nil
	})
	return size, files, artifacts
}
