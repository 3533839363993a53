package storage

import (
	"fmt"
	"io"
)

// Terminal is for displaying data on terminal.
type Terminal struct {
	out io.Writer
}

var terminal Terminal

// TerminalTimestamp is used as a format to display only the time.
const TerminalTimestamp = "15:04:05.999"

// InitTerminal initializes terminal display.
// Output writer is always os.Stdout except in case of testing where file will be set as output terminal.
func InitTerminal(out io.Writer) *Terminal {
	if terminal.out == nil {
		terminal = Terminal{
			out: out,
		}
	}
	return &terminal
}

// GetTerminal returns already prepared terminal instance.
func GetTerminal() *Terminal {
	return &terminal
}

// CommitTicks batch outputs input tick data to terminal.
func (t *Terminal) CommitTicks(data []Tick) {
	for _, tick := range data {
		fmt.Fprintf(t.out, "%-15s%-15s%20f%20f%20s\n\n", "Tick", tick.Symbol, tick.Price, tick.Qty, tick.Timestamp.Local().Format(TerminalTimestamp))
	}
}

// CommitBars batch outputs resampled bar data to terminal.
func (t *Terminal) CommitBars(data []Bar) {
	for _, bar := range data {
		fmt.Fprintf(t.out, "%-15s%-15s%-5s%16f%16f%16f%16f%16f%16s\n\n", "Bar", bar.Symbol, bar.Timeframe, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.BucketStart.Local().Format(TerminalTimestamp))
	}
}
