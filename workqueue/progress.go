package workqueue

// ProgressEvent is a progress update published on the side channel.
type ProgressEvent struct {
	// Stage identifies the current phase.
	Stage ProgressStage

	// Description is the current item or task.
	Description string

	// Percent is the completion fraction in [0, 1].
	Percent float64

	// Done and Total count finished and scheduled items. Total is zero when
	// unknown.
	Done  int
	Total int

	// Path is the file being processed, if any.
	Path string

	// BytesDone and BytesTotal track byte progress for transfers.
	BytesDone  int64
	BytesTotal int64
}

// ProgressFunc receives progress updates. Implementations must be safe for
// concurrent calls.
type ProgressFunc func(ProgressEvent)

// ProgressStage identifies the phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	StageWorking ProgressStage = iota
	StageIndexing
	StageCompiling
	StagePatching
	StageDownloading
	StageHashing
	StageInstalling
	StageBuildingArchives
	StageExporting
)

// String returns the stage name.
func (s ProgressStage) String() string {
	switch s {
	case StageWorking:
		return "working"
	case StageIndexing:
		return "indexing"
	case StageCompiling:
		return "compiling"
	case StagePatching:
		return "patching"
	case StageDownloading:
		return "downloading"
	case StageHashing:
		return "hashing"
	case StageInstalling:
		return "installing"
	case StageBuildingArchives:
		return "building archives"
	case StageExporting:
		return "exporting"
	default:
		return "unknown"
	}
}

// Publish sends ev to the queue's progress callback.
func (q *Queue) Publish(ev ProgressEvent) {
	q.emit(ev)
}
