package headless

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ReplayFile shows the recorded stream at path. A path of "-" reads stdin.
func ReplayFile(ctx context.Context, path string, w, errW io.Writer, opts Options) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		defer f.Close()
		in = f
	}

	runner := NewRunner(nil, w, errW, opts)
	return runner.Replay(ctx, in)
}
