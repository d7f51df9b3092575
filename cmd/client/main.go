package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mikekulinski/zkstore/pkg/client"
	"github.com/mikekulinski/zkstore/pkg/zookeeper"
	"github.com/spf13/cobra"
)

var (
	serverAddress string
	sequential    bool
	version       int32

	rootCmd = &cobra.Command{
		Use:          "zkstore",
		Short:        "Reads and writes the tree of a zkstore replica",
		SilenceUsage: true,
	}

	createCmd = &cobra.Command{
		Use:   "create <path> [data]",
		Short: "Creates a node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
			req := &zookeeper.CreateReq{Path: args[0]}
			if len(args) == 2 {
				req.Data = []byte(args[1])
			}
			if sequential {
				req.Flags = append(req.Flags, zookeeper.SEQUENTIAL)
			}
			resp, err := c.Create(req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Path)
			return nil
		}),
	}

	getCmd = &cobra.Command{
		Use:   "get <path>",
		Short: "Prints the data of a node",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
			resp, err := c.GetData(&zookeeper.GetDataReq{Path: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(resp.Data))
			return nil
		}),
	}

	setCmd = &cobra.Command{
		Use:   "set <path> <data>",
		Short: "Replaces the data of a node",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
			resp, err := c.SetData(&zookeeper.SetDataReq{Path: args[0], Data: []byte(args[1]), Version: version})
			if err != nil {
				return err
			}
			printStat(cmd, resp.Stat)
			return nil
		}),
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <path>",
		Short: "Deletes a node without children",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(_ *cobra.Command, c *client.Client, args []string) error {
			_, err := c.Delete(&zookeeper.DeleteReq{Path: args[0], Version: version})
			return err
		}),
	}

	lsCmd = &cobra.Command{
		Use:   "ls <path>",
		Short: "Lists the children of a node",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
			resp, err := c.GetChildren(&zookeeper.GetChildrenReq{Path: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "["+strings.Join(resp.Children, ", ")+"]")
			return nil
		}),
	}

	statCmd = &cobra.Command{
		Use:   "stat <path>",
		Short: "Prints the stat of a node",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
			resp, err := c.Exists(&zookeeper.ExistsReq{Path: args[0]})
			if err != nil {
				return err
			}
			if !resp.Exists {
				return fmt.Errorf("%s does not exist", args[0])
			}
			printStat(cmd, resp.Stat)
			return nil
		}),
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Waits until the writes before it are replicated",
		Args:  cobra.NoArgs,
		RunE: withClient(func(_ *cobra.Command, c *client.Client, _ []string) error {
			_, err := c.Sync(&zookeeper.SyncReq{})
			return err
		}),
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "127.0.0.1:2181", "address of the replica")
	createCmd.Flags().BoolVar(&sequential, "sequential", false, "append a sequence number to the name")
	setCmd.Flags().Int32VarP(&version, "version", "v", zookeeper.AnyVersion, "expected version, -1 for any")
	deleteCmd.Flags().Int32VarP(&version, "version", "v", zookeeper.AnyVersion, "expected version, -1 for any")
	rootCmd.AddCommand(createCmd, getCmd, setCmd, deleteCmd, lsCmd, statCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withClient connects to the replica for the length of one command.
func withClient(fn func(cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(serverAddress)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, args)
	}
}

func printStat(cmd *cobra.Command, stat zookeeper.Stat) {
	out := cmd.OutOrStdout()
	for _, field := range []struct {
		name  string
		value int64
	}{
		{"czxid", stat.Czxid},
		{"mzxid", stat.Mzxid},
		{"pzxid", stat.Pzxid},
		{"ctime", stat.Ctime},
		{"mtime", stat.Mtime},
		{"version", int64(stat.Version)},
		{"cversion", int64(stat.Cversion)},
		{"aversion", int64(stat.Aversion)},
		{"dataLength", int64(stat.DataLength)},
		{"numChildren", int64(stat.NumChildren)},
	} {
		fmt.Fprintln(out, field.name+" = "+strconv.FormatInt(field.value, 10))
	}
}
