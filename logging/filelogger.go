// Package logging persists per-case raw logs and fans finalized case results
// out to pluggable sinks.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starry-os/infra/os-acceptor/types"
)

// RunDirectoryPrefix is the standardized prefix for run directories.
const RunDirectoryPrefix = "testrun-"

// ResultSink is an interface for different ways of consuming case results
type ResultSink interface {
	// Consume processes a single case result
	Consume(result types.CaseResult, runID string) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}

// FileLogger handles writing case output to files
type FileLogger struct {
	baseDir      string // Base directory for logs
	logDir       string // Directory for this run
	caseDir      string // Directory for per-case raw logs
	runID        string
	suiteID      string
	mu           sync.Mutex // Protects concurrent file operations
	sinks        []ResultSink
	asyncWriters map[string]*AsyncFile
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a new FileLogger rooted at baseDir for one run.
func NewFileLogger(baseDir, runID, suiteID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	caseDir := filepath.Join(logDir, "cases")

	for _, dir := range []string{baseDir, logDir, caseDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		caseDir:      caseDir,
		runID:        runID,
		suiteID:      suiteID,
		sinks:        make([]ResultSink, 0),
		asyncWriters: make(map[string]*AsyncFile),
	}, nil
}

// AddSink registers an additional result consumer.
func (l *FileLogger) AddSink(sink ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// GetRunID returns the run ID this logger writes under.
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// RunDir returns the directory all artifacts for this run live in.
func (l *FileLogger) RunDir() string {
	return l.logDir
}

// CaseLogPath returns the raw log path for a case, relative to the run dir.
func (l *FileLogger) CaseLogPath(caseName string) string {
	return filepath.Join("cases", caseSlug(caseName)+".log")
}

// WriteCaseOutput persists the raw captured output for one case and returns
// the log path relative to the run directory. Output is written on every
// execution path, including timeouts and crashes.
func (l *FileLogger) WriteCaseOutput(caseName string, output []byte) (string, error) {
	rel := l.CaseLogPath(caseName)
	writer, err := l.getAsyncWriter(filepath.Join(l.logDir, rel))
	if err != nil {
		return "", err
	}
	if err := writer.Write(output); err != nil {
		return "", err
	}
	return rel, nil
}

// LogCaseResult processes a case result through all registered sinks
func (l *FileLogger) LogCaseResult(result types.CaseResult) error {
	l.mu.Lock()
	sinks := make([]ResultSink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Consume(result, l.runID); err != nil {
			return fmt.Errorf("sink %T failed to consume result for %s: %w", sink, result.Name, err)
		}
	}
	return nil
}

// Complete flushes all sinks and closes the async writers. Call it exactly
// once, after the last result has been logged.
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	sinks := make([]ResultSink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Complete(l.runID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sink %T failed to complete: %w", sink, err)
		}
	}

	l.closeAllWriters()
	return firstErr
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}

	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers
func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close() // Ignore errors on close
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// caseSlug maps a case name to a filesystem-safe file stem.
func caseSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
