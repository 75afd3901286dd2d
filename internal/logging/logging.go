// Package logging initializes process-wide logging: a rotating file log
// plus stdout, watched against free disk space.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ricochet2200/go-disk-usage/du"
)

const logFileBase = "mlatd.log"

const (
	rotateSize  = 20 * 1024 * 1024 // 20MB
	minFreeDisk = 50 * 1024 * 1024 // 50MB
	maxRotated  = 9
)

var (
	logDir      string
	currentPath string
	fileHandle  *os.File
)

// Init opens the log file under dir (creating it if needed), mirrors log
// output to stdout, and starts the background rotation watcher.
func Init(dir string) error {
	logDir = dir
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	if err := openLogFile(); err != nil {
		return err
	}
	go watch()
	return nil
}

func openLogFile() error {
	old := fileHandle
	currentPath = filepath.Join(logDir, logFileBase)

	fp, err := os.OpenFile(currentPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	fileHandle = fp
	log.SetOutput(io.MultiWriter(fp, os.Stdout))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if old != nil {
		old.Close()
	}
	return nil
}

func rotatedLogs() []string {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil
	}
	var logs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), logFileBase+".") {
			logs = append(logs, filepath.Join(logDir, e.Name()))
		}
	}
	sort.Strings(logs)
	return logs
}

func rotate() {
	logs := rotatedLogs()
	for i := len(logs) - 1; i >= 0; i-- {
		parts := strings.Split(logs[i], ".")
		num, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			continue
		}
		if num >= maxRotated {
			os.Remove(logs[i])
			continue
		}
		os.Rename(logs[i], filepath.Join(logDir, logFileBase+"."+strconv.Itoa(num+1)))
	}
	os.Rename(currentPath, currentPath+".1")
	openLogFile()
}

func deleteOldest() int64 {
	logs := rotatedLogs()
	if len(logs) == 0 {
		return 0
	}
	oldest := logs[len(logs)-1]
	stat, err := os.Stat(oldest)
	if err != nil {
		return 0
	}
	if os.Remove(oldest) != nil {
		return 0
	}
	return stat.Size()
}

func watch() {
	for {
		if stat, err := os.Stat(currentPath); err == nil && stat.Size() > rotateSize {
			rotate()
		}

		usage := du.NewDiskUsage(logDir)
		free := int64(usage.Free())
		for free < minFreeDisk {
			deleted := deleteOldest()
			if deleted == 0 {
				break
			}
			free += deleted
		}

		time.Sleep(30 * time.Second)
	}
}
