// sidctl talks to a running srv6d over its Unix socket.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"srv6d/log"
	"srv6d/sid"
	"srv6d/zclient"
	"srv6d/zserv"
)

type options struct {
	socket   string
	proto    string
	instance uint16
	timeout  time.Duration
	settle   time.Duration
	verbose  bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "sidctl",
		Short:         "Inspect and request SRv6 functions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.socket, "socket", zserv.DefaultSocket, "srv6d socket")
	flags.StringVar(&opts.proto, "proto", "static", "owner protocol (static, isis or bgp)")
	flags.Uint16Var(&opts.instance, "instance", 0, "owner instance")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "overall timeout")
	flags.DurationVar(&opts.settle, "settle", 200*time.Millisecond, "time to let the initial replay arrive")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log protocol messages")

	cmd.AddCommand(
		newLocators(&opts),
		newFunctions(&opts),
		newAllocate(&opts),
		newRelease(&opts),
	)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (o *options) dial(ctx context.Context) (*zclient.Client, error) {
	owner := sid.Owner{Proto: sid.ProtoOther, Instance: o.instance}
	for _, p := range []sid.Proto{sid.ProtoStatic, sid.ProtoISIS, sid.ProtoBGP} {
		if p.String() == o.proto {
			owner.Proto = p
		}
	}
	if owner.Proto == sid.ProtoOther {
		return nil, errors.Errorf("unknown protocol %q", o.proto)
	}
	var zopts []zclient.Option
	if o.verbose {
		logger, err := log.New("debug", log.FormatConsole)
		if err != nil {
			return nil, err
		}
		zopts = append(zopts, zclient.WithLogger(logger))
	}
	c, err := zclient.Dial(ctx, o.socket, owner, zopts...)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(o.settle):
	case <-ctx.Done():
	}
	return c, nil
}

func (o *options) run(cmd *cobra.Command, fn func(context.Context, *zclient.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	c, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func newLocators(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "locators",
		Short: "List the locators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *zclient.Client) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tPREFIX\tBITS\tALGO\tFUNCTIONS")
				for _, loc := range c.Locators() {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
						loc.Name, loc.Prefix, loc.FunctionBits, loc.Algorithm, len(c.Functions(loc.Name)))
				}
				return w.Flush()
			})
		},
	}
}

func newFunctions(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "functions <locator>",
		Short: "List the functions of a locator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, c *zclient.Client) error {
				if _, ok := c.Locator(args[0]); !ok {
					return errors.Errorf("locator %q not found", args[0])
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PREFIX\tOWNER\tKEY")
				for _, fn := range c.Functions(args[0]) {
					fmt.Fprintf(w, "%s\t%s\t%d\n", fn.Prefix, fn.Owner, fn.RequestKey)
				}
				return w.Flush()
			})
		},
	}
}

func newAllocate(opts *options) *cobra.Command {
	var key uint32
	cmd := &cobra.Command{
		Use:   "allocate <locator> [prefix]",
		Short: "Allocate a function, at prefix or wherever the server picks",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix netip.Prefix
			if len(args) == 2 {
				p, err := netip.ParsePrefix(args[1])
				if err != nil {
					return err
				}
				prefix = p
			}
			return opts.run(cmd, func(ctx context.Context, c *zclient.Client) error {
				fn, err := c.Allocate(ctx, args[0], prefix, key)
				if err != nil {
					return errors.Wrap(err, "no answer, see the srv6d log")
				}
				fmt.Fprintln(cmd.OutOrStdout(), fn.Prefix)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&key, "key", uint32(os.Getpid()), "request key")
	return cmd
}

func newRelease(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "release <locator> <prefix>",
		Short: "Release a function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := netip.ParsePrefix(args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, c *zclient.Client) error {
				return c.Release(ctx, args[0], prefix)
			})
		},
	}
}
