// Package devices enumerates and selects malgo capture/playback devices by
// case-insensitive substring match, mirroring the selection rules in
// spec.md §6.
package devices

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// ErrDevice is the sentinel base error for device selection failures.
var ErrDevice = errors.New("device error")

// Info is the subset of a malgo device's identity we care about.
type Info struct {
	ID   malgo.DeviceID
	Name string
}

// List returns the capture and playback devices malgo's default host
// reports, in enumeration order.
func List(ctx *malgo.AllocatedContext) (capture, playback []Info, err error) {
	captureInfos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: enumerating capture devices: %v", ErrDevice, err)
	}
	playbackInfos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: enumerating playback devices: %v", ErrDevice, err)
	}

	for _, d := range captureInfos {
		capture = append(capture, Info{ID: d.ID(), Name: d.Name()})
	}
	for _, d := range playbackInfos {
		playback = append(playback, Info{ID: d.ID(), Name: d.Name()})
	}
	return capture, playback, nil
}

// Print writes a numbered listing of capture and playback devices, used by
// the CLI's --list-devices mode.
func Print(ctx *malgo.AllocatedContext) error {
	capture, playback, err := List(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== Input Devices ===")
	printNumbered(capture)
	fmt.Println("=== Output Devices ===")
	printNumbered(playback)
	return nil
}

func printNumbered(infos []Info) {
	if len(infos) == 0 {
		fmt.Println("  (none)")
		return
	}
	for i, d := range infos {
		fmt.Printf("  %d. %s\n", i+1, d.Name)
	}
}

// FindInput selects a capture device whose name contains query
// case-insensitively. A single match selects it; multiple matches warn and
// use the first; zero matches is a fatal ErrDevice (required input).
func FindInput(ctx *malgo.AllocatedContext, query string) (malgo.DeviceID, error) {
	capture, _, err := List(ctx)
	if err != nil {
		return malgo.DeviceID{}, err
	}
	id, _, err := match(capture, query)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("%w: no input device matching %q", ErrDevice, query)
	}
	return id, nil
}

// FindOutput selects a playback device whose name contains query
// case-insensitively. An empty query or zero matches falls back to the
// system default (returns the zero DeviceID and ok=false).
func FindOutput(ctx *malgo.AllocatedContext, query string) (id malgo.DeviceID, ok bool, err error) {
	if query == "" {
		return malgo.DeviceID{}, false, nil
	}
	_, playback, err := List(ctx)
	if err != nil {
		return malgo.DeviceID{}, false, err
	}
	id, _, matchErr := match(playback, query)
	if matchErr != nil {
		log.Warn("no output device matched substring, falling back to default", "query", query)
		return malgo.DeviceID{}, false, nil
	}
	return id, true, nil
}

func match(infos []Info, query string) (malgo.DeviceID, string, error) {
	lower := strings.ToLower(query)
	var matches []Info
	for _, d := range infos {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return malgo.DeviceID{}, "", fmt.Errorf("no device matching %q", query)
	case 1:
		return matches[0].ID, matches[0].Name, nil
	default:
		log.Warn("multiple devices matched, using first", "query", query, "selected", matches[0].Name, "match_count", len(matches))
		return matches[0].ID, matches[0].Name, nil
	}
}
