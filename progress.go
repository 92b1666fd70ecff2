package modlist

import "github.com/meigma/modlist/workqueue"

// Re-export progress types from the work queue.
type (
	// ProgressEvent is a progress update published while indexing,
	// compiling or installing.
	ProgressEvent = workqueue.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = workqueue.ProgressStage

	// ProgressFunc receives progress updates.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = workqueue.ProgressFunc
)

// Re-export progress stage constants.
const (
	StageWorking          = workqueue.StageWorking
	StageIndexing         = workqueue.StageIndexing
	StageCompiling        = workqueue.StageCompiling
	StagePatching         = workqueue.StagePatching
	StageDownloading      = workqueue.StageDownloading
	StageHashing          = workqueue.StageHashing
	StageInstalling       = workqueue.StageInstalling
	StageBuildingArchives = workqueue.StageBuildingArchives
	StageExporting        = workqueue.StageExporting
)
