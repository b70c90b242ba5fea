package errors

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// FileError records an error raised while processing one file.
type FileError struct {
	File      string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (fe *FileError) Error() string {
	return fmt.Sprintf("%s: %v", fe.File, fe.Err)
}

// Unwrap returns the underlying error.
func (fe *FileError) Unwrap() error {
	return fe.Err
}

// ErrorCollector collects errors keyed by the file that produced them. Only
// the latest error per file is kept, so a file that fails twice is reported
// once.
type ErrorCollector struct {
	byFile map[string]*FileError
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		byFile: make(map[string]*FileError),
	}
}

// Add records err against file, replacing any earlier error for it.
func (ec *ErrorCollector) Add(file string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.byFile[file] = &FileError{File: file, Err: err, Timestamp: time.Now()}
}

// AddError adds an error that is not tied to a file.
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// Remove forgets the error recorded for file.
func (ec *ErrorCollector) Remove(file string) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	delete(ec.byFile, file)
}

// Get returns the error recorded for file, or nil.
func (ec *ErrorCollector) Get(file string) error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if fe, ok := ec.byFile[file]; ok {
		return fe.Err
	}
	return nil
}

// Files returns the files with a recorded error, sorted.
func (ec *ErrorCollector) Files() []string {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	files := make([]string, 0, len(ec.byFile))
	for f := range ec.byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// GetAllErrors returns file errors sorted by file, then general errors.
func (ec *ErrorCollector) GetAllErrors() []error {
	files := ec.Files()

	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	all := make([]error, 0, len(files)+len(ec.errors))
	for _, f := range files {
		all = append(all, ec.byFile[f])
	}
	all = append(all, ec.errors...)
	return all
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.byFile) > 0 || len(ec.errors) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.byFile = make(map[string]*FileError)
	ec.errors = ec.errors[:0]
}

// Err combines everything collected into one error, or nil.
func (ec *ErrorCollector) Err() error {
	return CombineErrors(ec.GetAllErrors()...)
}
