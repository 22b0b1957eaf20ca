//go:build !linux

package presence

// Platform sampling beyond the clock is not implemented here; load fields
// read as zero and optional fields stay absent.
func sampleSystemLoad() SystemLoad {
	return SystemLoad{}
}

func sampleProcesses() []InterestingProcess {
	return nil
}
