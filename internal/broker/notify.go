package broker

import "github.com/mattjoyce/switchboard/internal/protocol"

// Well-known keys and types of host notifications.
const (
	KeyApp      = "app"
	TypeFocus   = "focus"
	TypeUnfocus = "unfocus"

	KeyCompiler              = "compiler"
	TypeCompilationData      = "compilationData"
	TypeCompilationFinished  = "compilationFinished"
	TypeGetCompilationResult = "getCompilationResult"

	KeyEditor              = "editor"
	TypeCurrentFileChanged = "currentFileChanged"

	KeyTxListener      = "txlistener"
	TypeNewTransaction = "newTransaction"
)

// FocusNotification tells a plugin it became active.
func FocusNotification() *protocol.Envelope {
	return protocol.NewNotification(KeyApp, TypeFocus)
}

// UnfocusNotification tells a plugin it is no longer active.
func UnfocusNotification() *protocol.Envelope {
	return protocol.NewNotification(KeyApp, TypeUnfocus)
}

// CompilationDataNotification carries the current compilation result.
func CompilationDataNotification(result protocol.Value) *protocol.Envelope {
	return protocol.NewNotification(KeyCompiler, TypeCompilationData, result)
}

// FileChangedNotification announces the editor's new current file.
func FileChangedNotification(path string) *protocol.Envelope {
	return protocol.NewNotification(KeyEditor, TypeCurrentFileChanged, protocol.String(path))
}

// CompilationFinishedNotification announces a finished compilation.
func CompilationFinishedNotification(values ...protocol.Value) *protocol.Envelope {
	return protocol.NewNotification(KeyCompiler, TypeCompilationFinished, values...)
}

// NewTransactionNotification announces a transaction observed on the simulated backend.
func NewTransactionNotification(tx protocol.Value) *protocol.Envelope {
	return protocol.NewNotification(KeyTxListener, TypeNewTransaction, tx)
}
