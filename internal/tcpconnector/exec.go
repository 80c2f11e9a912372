package tcpconnector

import (
	"context"
	"fmt"
	"os/exec"
)

// runExternal runs the host-side forwarding helper process to completion,
// the Go counterpart of the original hub.net.run_external_async helper. With
// no args, the forward has no natural end and instead runs until ctx is
// cancelled, keeping the listener open.
func runExternal(ctx context.Context, args []string) error {
	if len(args) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tcpconnector: exec %v: %w: %s", args, err, out)
	}
	return nil
}
