package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/meowctl/internal/catalog"
	"github.com/srg/meowctl/internal/central"
	"github.com/srg/meowctl/internal/device"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// palette colors state names when writing to a terminal.
type palette struct {
	enabled bool
	good    *color.Color
	bad     *color.Color
	busy    *color.Color
	dim     *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		enabled: isTerminal(w),
		good:    color.New(color.FgGreen, color.Bold),
		bad:     color.New(color.FgRed),
		busy:    color.New(color.FgYellow),
		dim:     color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.good, p.bad, p.busy, p.dim} {
		if p.enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) state(s central.ConnectionState) string {
	switch s {
	case central.Ready:
		return p.good.Sprint(s)
	case central.Disconnected:
		return p.bad.Sprint(s)
	case central.Connecting, central.Connected, central.DiscoveringServices, central.DiscoveringCharacteristics:
		return p.busy.Sprint(s)
	default:
		return p.dim.Sprint(s)
	}
}

func (p *palette) power(s device.PowerState) string {
	if s == device.PoweredOn {
		return p.good.Sprint(s)
	}
	return p.bad.Sprint(s)
}

// displayName is "Name (id)", or the id alone for unnamed peripherals.
func displayName(p central.Peripheral) string {
	if p.Name == "" {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

func featureNames(p central.Peripheral) []string {
	var names []string
	for _, c := range p.Characteristics {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// formatChange renders one change notification as a log line.
func formatChange(pal *palette, c central.Change) string {
	ts := c.At.Format("15:04:05")
	switch c.Kind {
	case central.PowerChanged:
		return fmt.Sprintf("%s  bluetooth %s", ts, pal.power(c.Power))
	case central.CharacteristicsUpdated:
		features := featureNames(c.Peripheral)
		if len(features) == 0 {
			return fmt.Sprintf("%s  %s  no known features", ts, displayName(c.Peripheral))
		}
		return fmt.Sprintf("%s  %s  features: %s", ts, displayName(c.Peripheral), strings.Join(features, ", "))
	default:
		line := fmt.Sprintf("%s  %s  %s", ts, displayName(c.Peripheral), pal.state(c.Peripheral.State))
		if c.Peripheral.State == central.Disconnected && c.Peripheral.LastError != "" {
			line += ": " + c.Peripheral.LastError
		}
		return line
	}
}

func writePeripheralTable(w io.Writer, pal *palette, peripherals []central.Peripheral) error {
	if len(peripherals) == 0 {
		_, err := fmt.Fprintln(w, "No toys found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tRSSI\tFEATURES\tLAST ERROR")
	for _, p := range peripherals {
		features := strings.Join(featureNames(p), ", ")
		if features == "" {
			features = "-"
		}
		lastErr := p.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", p.ID, orDash(p.Name), pal.state(p.State), p.RSSI, features, lastErr)
	}
	return tw.Flush()
}

func writeFeatureTable(w io.Writer, features []catalog.Feature) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tCHARACTERISTIC\tON\tOFF")
	for _, f := range features {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.UUID, f.On, orDash(string(f.Off)))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// listing is the JSON shape of `list --format json`.
type listing struct {
	Power       device.PowerState    `json:"power"`
	Peripherals []central.Peripheral `json:"peripherals"`
	ScannedFor  string               `json:"scanned_for"`
}

func newListing(power device.PowerState, peripherals []central.Peripheral, d time.Duration) listing {
	if peripherals == nil {
		peripherals = []central.Peripheral{}
	}
	return listing{Power: power, Peripherals: peripherals, ScannedFor: d.String()}
}
