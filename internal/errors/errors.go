package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfig represents malformed or missing configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeRepoNotFound represents an unknown repository name
	ErrorTypeRepoNotFound ErrorType = "repo_not_found"
	// ErrorTypePresetNotFound represents an unknown backup preset name
	ErrorTypePresetNotFound ErrorType = "preset_not_found"
	// ErrorTypePassphraseUnavailable represents a secret that could not be obtained
	ErrorTypePassphraseUnavailable ErrorType = "passphrase_unavailable"
	// ErrorTypeEmptyIncludeSet represents a preset with nothing to back up
	ErrorTypeEmptyIncludeSet ErrorType = "empty_include_set"
	// ErrorTypeAlreadyMounted reports an archive that already has a mounted session
	ErrorTypeAlreadyMounted ErrorType = "already_mounted"
	// ErrorTypeMountpointNotEmpty represents an unusable mount target
	ErrorTypeMountpointNotEmpty ErrorType = "mountpoint_not_empty"
	// ErrorTypeMountFailed represents a failed engine mount
	ErrorTypeMountFailed ErrorType = "mount_failed"
	// ErrorTypeUnmountFailed represents a failed engine unmount
	ErrorTypeUnmountFailed ErrorType = "unmount_failed"
	// ErrorTypeBackupFailed represents a backup run that exited with an error code
	ErrorTypeBackupFailed ErrorType = "backup_failed"
	// ErrorTypeSSHProbeFailed represents an unreachable or unauthenticated remote
	ErrorTypeSSHProbeFailed ErrorType = "ssh_probe_failed"
	// ErrorTypeEngine represents engine processes that could not run or produced unreadable output
	ErrorTypeEngine ErrorType = "engine"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable reports whether the operator can retry the same operation
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to the operator
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// Constructors for the domain taxonomy

func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfig, message, cause)
}

func NewRepoNotFoundError(name string, available []string) *AppError {
	msg := fmt.Sprintf("repository '%s' not found", name)
	if len(available) > 0 {
		msg = fmt.Sprintf("%s. Available: %s", msg, joinNames(available))
	}
	return NewAppError(ErrorTypeRepoNotFound, msg, nil).WithContext("repo", name)
}

func NewPresetNotFoundError(repo, name string, available []string) *AppError {
	msg := fmt.Sprintf("backup '%s' not found in repository '%s'", name, repo)
	if len(available) > 0 {
		msg = fmt.Sprintf("%s. Available: %s", msg, joinNames(available))
	}
	return NewAppError(ErrorTypePresetNotFound, msg, nil).
		WithContext("repo", repo).
		WithContext("preset", name)
}

func NewPassphraseUnavailableError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypePassphraseUnavailable, message, cause)
}

func NewMountFailedError(archive, mountpoint string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeMountFailed,
		fmt.Sprintf("mounting %s at %s failed", archive, mountpoint), cause).
		WithContext("archive", archive).
		WithContext("mountpoint", mountpoint)
}

func NewUnmountFailedError(mountpoint string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeUnmountFailed,
		fmt.Sprintf("unmounting %s failed", mountpoint), cause).
		WithContext("mountpoint", mountpoint)
}

func NewEngineError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeEngine, message, cause)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if execErr := ec.classifyExecError(err); execErr != nil {
		return execErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyExecError classifies failures to start the engine binary
func (ec *ErrorClassifier) classifyExecError(err error) *AppError {
	if errors.Is(err, exec.ErrNotFound) {
		return NewAppError(ErrorTypeConfig,
			"borg binary not found - check borg_bin in the config or your PATH", err)
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return NewAppError(ErrorTypeEngine,
			fmt.Sprintf("cannot start %s", execErr.Name), err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeConfig,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES, syscall.EPERM:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeEngine,
				"No space left on device", err)
		}
	}

	return nil
}

// GracefulShutdownHandler runs registered cleanup on SIGINT/SIGTERM
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan bool
	once          sync.Once
	exit          func(code int)
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan bool, 1),
		exit:          os.Exit,
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals. A received signal runs the
// registered functions and exits with status 130.
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; !ok {
			return
		}
		gsh.Shutdown()
		gsh.exit(130)
	}()
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// WaitForShutdown waits for shutdown to complete
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

// Shutdown executes all registered shutdown functions in reverse order.
// Later calls are no-ops.
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		defer func() {
			gsh.done <- true
		}()

		gsh.mu.Lock()
		funcs := append([]func() error(nil), gsh.shutdownFuncs...)
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	return GetErrorType(err) == errorType
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		msg := appErr.GetUserMessage()
		if appErr.UserMessage == "" && appErr.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, appErr.Cause)
		}
		return msg
	}

	return err.Error()
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
