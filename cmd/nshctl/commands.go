package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/veesix-networks/osvnsh/pkg/controlplane"
)

func registerCommands(t *CommandTree) {
	t.AddRoot([]string{"show"}, "Display daemon state")
	t.AddCommand([]string{"show", "devices"}, "List devices", showDevices)
	t.AddCommand([]string{"show", "device"}, "Show one device", showDevice,
		&Argument{Name: "name", Description: "Device name", Type: ArgUserInput})
	t.AddCommand([]string{"show", "paths"}, "List forwarding entries", showPaths)
	t.AddCommand([]string{"show", "stats"}, "Counters and drop reasons", showStats)
	t.AddCommand([]string{"show", "version"}, "Daemon version and API status", showVersion)

	t.AddRoot([]string{"device"}, "Manage devices")
	t.AddCommand([]string{"device", "add"}, "Create a device", deviceAdd,
		&Argument{Name: "name", Description: "Device name", Type: ArgUserInput},
		&Argument{Name: "kind", Description: "Host binding", Type: ArgKeywordWithValue, Values: []string{"tap", "none"}},
		&Argument{Name: "key", Description: "Path key spi:si to transmit on", Type: ArgKeywordWithValue})
	t.AddCommand([]string{"device", "del"}, "Destroy a device", deviceDel,
		&Argument{Name: "name", Description: "Device name", Type: ArgUserInput})
	t.AddCommand([]string{"device", "bind"}, "Bind a device to a path key", deviceBind,
		&Argument{Name: "name", Description: "Device name", Type: ArgUserInput},
		&Argument{Name: "key", Description: "Path key spi:si", Type: ArgUserInput})
	t.AddCommand([]string{"device", "unbind"}, "Clear a device's path key", deviceUnbind,
		&Argument{Name: "name", Description: "Device name", Type: ArgUserInput})

	t.AddRoot([]string{"path"}, "Manage forwarding entries")
	t.AddCommand([]string{"path", "add"}, "Add a forwarding entry", pathAdd,
		&Argument{Name: "spi", Description: "Service path identifier", Type: ArgUserInput},
		&Argument{Name: "si", Description: "Service index", Type: ArgUserInput},
		&Argument{Name: "device", Description: "Deliver to a local device", Type: ArgKeywordWithValue},
		&Argument{Name: "remote", Description: "Tunnel to a remote IPv4 address", Type: ArgKeywordWithValue},
		&Argument{Name: "vni", Description: "Tunnel VNI", Type: ArgKeywordWithValue},
		&Argument{Name: "local", Description: "Local tunnel address", Type: ArgKeywordWithValue},
		&Argument{Name: "encap", Description: "Encapsulation", Type: ArgKeywordWithValue, Values: []string{"vxlan-gpe", "ethernet", "gre", "gue"}})
	t.AddCommand([]string{"path", "del"}, "Delete a forwarding entry", pathDel,
		&Argument{Name: "spi", Description: "Service path identifier", Type: ArgUserInput},
		&Argument{Name: "si", Description: "Service index", Type: ArgUserInput})

	t.AddCommand([]string{"format"}, "Set the output format", setFormat,
		&Argument{Name: "format", Description: "cli, json or yaml", Type: ArgUserInput, Values: formats})
}

func options(cli *CLI, path []string, args []string) ([]string, map[string]string, error) {
	return parseOptions(cli.tree.find(path), args)
}

func showDevices(ctx context.Context, cli *CLI, args []string) error {
	devs, err := cli.client.ListDevices(ctx)
	if err != nil {
		return err
	}
	return cli.print(devs)
}

func showDevice(ctx context.Context, cli *CLI, args []string) error {
	d, err := cli.client.GetDevice(ctx, args[0])
	if err != nil {
		return err
	}
	return cli.print(d)
}

func showPaths(ctx context.Context, cli *CLI, args []string) error {
	paths, err := cli.client.ListPaths(ctx)
	if err != nil {
		return err
	}
	return cli.print(paths)
}

func showStats(ctx context.Context, cli *CLI, args []string) error {
	st, err := cli.client.Stats(ctx)
	if err != nil {
		return err
	}
	return cli.print(st)
}

func showVersion(ctx context.Context, cli *CLI, args []string) error {
	st, err := cli.client.Status(ctx)
	if err != nil {
		return err
	}
	return cli.print(st)
}

func deviceAdd(ctx context.Context, cli *CLI, args []string) error {
	pos, opts, err := options(cli, []string{"device", "add"}, args)
	if err != nil {
		return err
	}
	d, err := cli.client.CreateDevice(ctx, controlplane.DeviceRequest{Name: pos[0], Kind: opts["kind"], Key: opts["key"]})
	if err != nil {
		return err
	}
	return cli.print(d)
}

func deviceDel(ctx context.Context, cli *CLI, args []string) error {
	if err := cli.client.DestroyDevice(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Device %s destroyed\n", args[0])
	return nil
}

func deviceBind(ctx context.Context, cli *CLI, args []string) error {
	d, err := cli.client.BindDevice(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return cli.print(d)
}

func deviceUnbind(ctx context.Context, cli *CLI, args []string) error {
	d, err := cli.client.UnbindDevice(ctx, args[0])
	if err != nil {
		return err
	}
	return cli.print(d)
}

func parseSPISI(spiStr, siStr string) (uint32, uint8, error) {
	spi, err := strconv.ParseUint(spiStr, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid spi %q", spiStr)
	}
	si, err := strconv.ParseUint(siStr, 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid si %q", siStr)
	}
	return uint32(spi), uint8(si), nil
}

func pathAdd(ctx context.Context, cli *CLI, args []string) error {
	pos, opts, err := options(cli, []string{"path", "add"}, args)
	if err != nil {
		return err
	}
	spi, si, err := parseSPISI(pos[0], pos[1])
	if err != nil {
		return err
	}

	req := controlplane.PathRequest{SPI: spi, SI: si, Device: opts["device"]}
	if addr, ok := opts["remote"]; ok {
		var vni uint64
		if s, ok := opts["vni"]; ok {
			vni, err = strconv.ParseUint(s, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid vni %q", s)
			}
		}
		req.Remote = &controlplane.RemoteRequest{
			Encap:   opts["encap"],
			VNI:     uint32(vni),
			Address: addr,
			Local:   opts["local"],
		}
	}

	p, err := cli.client.AddPath(ctx, req)
	if err != nil {
		return err
	}
	return cli.print(p)
}

func pathDel(ctx context.Context, cli *CLI, args []string) error {
	spi, si, err := parseSPISI(args[0], args[1])
	if err != nil {
		return err
	}
	if err := cli.client.DeletePath(ctx, spi, si); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Path %d:%d deleted\n", spi, si)
	return nil
}

func setFormat(ctx context.Context, cli *CLI, args []string) error {
	if !contains(formats, args[0]) {
		return fmt.Errorf("unknown format %q", args[0])
	}
	cli.format = OutputFormat(args[0])
	return nil
}
