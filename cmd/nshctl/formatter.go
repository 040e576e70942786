package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/veesix-networks/osvnsh/pkg/controlplane"
	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	FormatCLI  OutputFormat = "cli"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

var formats = []string{string(FormatCLI), string(FormatJSON), string(FormatYAML)}

func formatJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// formatYAML goes through JSON so keys keep their API names and order.
func formatYAML(w io.Writer, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func write(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case FormatJSON:
		return formatJSON(w, data)
	case FormatYAML:
		return formatYAML(w, data)
	}

	switch v := data.(type) {
	case []controlplane.DeviceInfo:
		return deviceTable(w, v)
	case controlplane.DeviceInfo:
		return deviceDetail(w, v)
	case []controlplane.PathInfo:
		return pathTable(w, v)
	case controlplane.PathInfo:
		return pathTable(w, []controlplane.PathInfo{v})
	case controlplane.Stats:
		return statsTable(w, v)
	}
	return formatYAML(w, data)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func deviceTable(w io.Writer, devs []controlplane.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tKEY\tRX PKTS\tTX PKTS\tTX ERR\tDROPPED")
	for _, d := range devs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			d.Name, d.Kind, orDash(d.Key), d.Stats.RxPackets, d.Stats.TxPackets, d.Stats.TxErrors, d.Stats.TxDropped)
	}
	return tw.Flush()
}

func deviceDetail(w io.Writer, d controlplane.DeviceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
	fmt.Fprintf(tw, "ID:\t%s\n", d.ID)
	fmt.Fprintf(tw, "Kind:\t%s\n", d.Kind)
	fmt.Fprintf(tw, "Key:\t%s\n", orDash(d.Key))
	fmt.Fprintf(tw, "Created:\t%s\n", d.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "RX:\t%d packets, %d bytes\n", d.Stats.RxPackets, d.Stats.RxBytes)
	fmt.Fprintf(tw, "TX:\t%d packets, %d bytes\n", d.Stats.TxPackets, d.Stats.TxBytes)
	fmt.Fprintf(tw, "TX errors:\t%d (carrier %d, dropped %d)\n", d.Stats.TxErrors, d.Stats.TxCarrierErrors, d.Stats.TxDropped)
	return tw.Flush()
}

func pathTable(w io.Writer, paths []controlplane.PathInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SPI\tSI\tTARGET\tVNI\tLOCAL")
	for _, p := range paths {
		if p.Remote != nil {
			fmt.Fprintf(tw, "%d\t%d\t%s %s\t%d\t%s\n", p.SPI, p.SI, p.Remote.Encap, p.Remote.Address, p.Remote.VNI, orDash(p.Remote.Local))
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\tdevice %s\t-\t-\n", p.SPI, p.SI, p.Device)
	}
	return tw.Flush()
}

func statsTable(w io.Writer, st controlplane.Stats) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Devices: %d\nPaths:   %d\n\nDrops:\n", len(st.Devices), st.Paths)

	reasons := make([]string, 0, len(st.Drops))
	for r := range st.Drops {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for _, r := range reasons {
		fmt.Fprintf(tw, "  %s\t%d\n", r, st.Drops[r])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(st.Devices) > 0 {
		buf.WriteString("\n")
		if err := deviceTable(&buf, st.Devices); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}
