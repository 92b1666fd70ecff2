package download

import (
	"context"
	"fmt"
)

// Manual handles archives that cannot be fetched automatically.
type Manual struct{}

func (Manual) Kind() Kind                      { return KindManual }
func (Manual) Prepare(_ context.Context) error { return nil }

// Download always fails with ErrManualDownload naming where to get the file.
func (Manual) Download(_ context.Context, archive *Archive, _ string) error {
	state, _ := archive.State.(*ManualState)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrManualDownload, archive.Name)
	}
	if state.Prompt != "" {
		return fmt.Errorf("%w: %s from %s (%s)", ErrManualDownload, archive.Name, state.URL, state.Prompt)
	}
	return fmt.Errorf("%w: %s from %s", ErrManualDownload, archive.Name, state.URL)
}

func (Manual) Verify(_ context.Context, _ *Archive) (bool, error) { return true, nil }
