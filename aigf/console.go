package aigf

import (
	"bufio"
	"context"
	"fmt"
	"github.com/fatih/color"
	"io"
)

const consoleExitPrompt = "[System] Press Enter to exit bot..."

var consoleWriter io.Writer = color.Output

// watchConsole calls stop once a line is read from r. Reaching the end
// of r without a newline (a detached stdin, for example) doesn't stop
// the bot.
func watchConsole(ctx context.Context, r io.Reader, stop func()) {
	_, _ = fmt.Fprintln(consoleWriter, color.New(color.FgWhite, color.Bold).Sprint(consoleExitPrompt))

	lineRead := make(chan struct{}, 1)
	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
			lineRead <- struct{}{}
		}
	}()

	select {
	case <-ctx.Done():
	case <-lineRead:
		_, _ = fmt.Fprintln(consoleWriter, color.YellowString("[System] Stopping Discord Bot..."))
		stop()
	}
}
