// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tcgdiag is a thin, read-only diagnostic exporter: it enumerates block
// devices, runs Level-0 Discovery against each, and reports the result
// as a table, JSON, an OpenMetrics scrape, or a spew dump. It does not
// open a session or prompt for credentials — that belongs to an
// interactive CLI outside this module's scope.
package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/seddrv/go-tcg-storage/pkg/cmdutil"
	"github.com/seddrv/go-tcg-storage/pkg/drive"
	"github.com/seddrv/go-tcg-storage/pkg/transport"
)

// CLI is the kong command schema, following pkg/cmdutil's established
// use of struct-tag-driven flags rather than the teacher's bare
// flag.String calls (cmd/tcgdiskstat/main.go used the latter; this
// binary supplements it with the kong idiom already wired elsewhere in
// the teacher pack).
type CLI struct {
	Output   string `optional:"" default:"table" enum:"table,json,openmetrics,dump" help:"Output format"`
	NoHeader bool   `optional:"" help:"Suppress the header in table format output"`
	Device   string `optional:"" help:"Diagnose a single device path instead of enumerating /sys/class/block"`
	JSONFile string `optional:"" type:"accessiblefile" help:"Also write the JSON report to this file"`
}

// DeviceState is one diagnosed device: its Identify response and, if
// the device answers Level-0 Discovery, its feature descriptors.
type DeviceState struct {
	Device   string
	Identity *drive.Identity
	Level0   *transport.Level0Discovery
}

type Devices []DeviceState

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("tcgdiag"),
		kong.Description("Read-only TCG Storage diagnostic exporter"),
		kong.UsageOnError(),
		kong.NamedMapper("accessiblefile", cmdutil.AccessibleFileMapper()),
	)

	var devicePaths []string
	if cli.Device != "" {
		devicePaths = []string{cli.Device}
	} else {
		var err error
		devicePaths, err = enumerateBlockDevices()
		if err != nil {
			log.Fatalf("enumerating block devices: %v", err)
		}
	}

	state := diagnose(devicePaths)

	if cli.JSONFile != "" {
		if err := writeJSONFile(cli.JSONFile, state); err != nil {
			log.Fatalf("writing JSON report to %s: %v", cli.JSONFile, err)
		}
	}

	switch cli.Output {
	case "json":
		outputJSON(state)
	case "openmetrics":
		outputMetrics(state)
	case "dump":
		outputDump(state)
	default:
		outputTable(state, cli.NoHeader)
	}
	kctx.Exit(0)
}

func enumerateBlockDevices() ([]string, error) {
	entries, err := ioutil.ReadDir("/sys/class/block/")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, fi := range entries {
		devname := fi.Name()
		if _, err := os.Stat(filepath.Join("/sys/class/block", devname, "device")); os.IsNotExist(err) {
			continue
		}
		devpath := filepath.Join("/dev", devname)
		if _, err := os.Stat(devpath); os.IsNotExist(err) {
			log.Printf("failed to find device node %s", devpath)
			continue
		}
		paths = append(paths, devpath)
	}
	return paths, nil
}

func diagnose(paths []string) Devices {
	var state Devices
	for _, devpath := range paths {
		d, err := drive.Open(devpath)
		if err != nil {
			log.Printf("drive.Open(%s): %v", devpath, err)
			continue
		}
		identity, err := d.Identify()
		if err != nil {
			log.Printf("drive.Identify(%s): %v", devpath, err)
		}
		d0, err := transport.Discovery0(d)
		if err != nil {
			if err != transport.ErrNotSupported {
				log.Printf("transport.Discovery0(%s): %v", devpath, err)
			}
			d0 = nil
		}
		d.Close()
		state = append(state, DeviceState{Device: devpath, Identity: identity, Level0: d0})
	}
	return state
}

func writeJSONFile(path string, state Devices) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, b, 0o644)
}

func outputJSON(state Devices) {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON: %v", err)
	}
	os.Stdout.Write(b)
	fmt.Println()
}

// sscFeatures reports the human-readable SSC names a device advertised
// in its Level-0 Discovery response.
func sscFeatures(l0 *transport.Level0Discovery) []string {
	var feat []string
	if l0.Enterprise != nil {
		feat = append(feat, "Enterprise")
	}
	if l0.OpalV1 != nil {
		feat = append(feat, "Opal 1")
	}
	if l0.OpalV2 != nil {
		feat = append(feat, "Opal 2")
	}
	if l0.Opalite != nil {
		feat = append(feat, "Opalite")
	}
	if l0.PyriteV1 != nil {
		feat = append(feat, "Pyrite 1")
	}
	if l0.PyriteV2 != nil {
		feat = append(feat, "Pyrite 2")
	}
	if l0.RubyV1 != nil {
		feat = append(feat, "Ruby 1")
	}
	if l0.KeyPerIO != nil {
		feat = append(feat, "Key Per I/O")
	}
	return feat
}

func outputTable(state Devices, noHeader bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	if !noHeader {
		fmt.Fprintf(w, "DEVICE\tMODEL\tSERIAL\tFIRMWARE\tPROTOCOL\tSSC\tSTATE\n")
	}
	for _, s := range state {
		var feat []string
		var st string
		if s.Level0 != nil {
			feat = sscFeatures(s.Level0)
			if l := s.Level0.Locking; l != nil {
				if l.LockingEnabled {
					st += "L"
				} else if l.LockingSupported {
					st += "l"
				}
				if l.MBREnabled {
					if l.MBRDone {
						st += "m"
					} else {
						st += "M"
					}
				}
				if l.MediaEncryption {
					st += "E"
				}
			}
			if b := s.Level0.BlockSID; b != nil {
				if !b.SIDValueState {
					st += "P"
				}
				if b.SIDAuthenticationBlockedState {
					st += "!"
				}
			}
		} else {
			st = "-"
			feat = []string{"-"}
		}
		identity := s.Identity
		if identity == nil {
			identity = &drive.Identity{}
		}
		fmt.Fprint(w,
			s.Device, "\t",
			identity.Model, "\t",
			identity.SerialNumber, "\t",
			identity.Firmware, "\t",
			identity.Protocol, "\t",
			strings.Join(feat, ","), "\t",
			st, "\n")
	}
	w.Flush()
}
