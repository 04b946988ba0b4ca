package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/client"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/lockservice"
	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

func newClientCmd() *cobra.Command {
	var serverList string
	var rpcTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running nyconsensus cluster",
	}
	cmd.PersistentFlags().StringVar(&serverList, "servers", "", "comma-separated id=host:port list of ClientAPI addresses")
	cmd.PersistentFlags().DurationVar(&rpcTimeout, "rpc-timeout", 500*time.Millisecond, "per-call timeout before trying the next server")

	newCk := func() (*client.Clerk, error) {
		addrs, order, err := parseServerList(serverList)
		if err != nil {
			return nil, err
		}
		caller := client.NewRPCCaller(addrs)
		return client.NewClerk(caller, order, rpcTimeout), nil
	}

	cmd.AddCommand(newGetCmd(newCk))
	cmd.AddCommand(newLockCmd(newCk))
	cmd.AddCommand(newSetCmd(newCk))
	return cmd
}

func newSetCmd(newCk func() (*client.Clerk, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key via a generic propose() call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := newCk()
			if err != nil {
				return err
			}
			encoded, err := lockservice.Encode(lockservice.KvSet{
				Key:       args[0],
				Value:     []byte(args[1]),
				RequestID: uuid.NewString(),
			})
			if err != nil {
				return err
			}
			index, err := ck.Propose(encoded)
			if err != nil {
				return err
			}
			fmt.Printf("proposed at index %d\n", index)
			return nil
		},
	}
	return cmd
}

func parseServerList(s string) (map[raft.PeerID]string, []raft.PeerID, error) {
	addrs := make(map[raft.PeerID]string)
	var order []raft.PeerID
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("invalid --servers entry %q, want id=host:port", entry)
		}
		id := raft.PeerID(parts[0])
		addrs[id] = parts[1]
		order = append(order, id)
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("--servers must name at least one id=host:port")
	}
	return addrs, order, nil
}

func newGetCmd(newCk func() (*client.Clerk, error)) *cobra.Command {
	var linearizable bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := newCk()
			if err != nil {
				return err
			}
			value, found, err := ck.Get(args[0], linearizable)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(string(value))
			return nil
		},
	}
	cmd.Flags().BoolVar(&linearizable, "linearizable", false, "route through the leader and confirm leadership before replying")
	return cmd
}

func newLockCmd(newCk func() (*client.Clerk, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire or release a fenced lock",
	}
	cmd.AddCommand(newLockAcquireCmd(newCk))
	cmd.AddCommand(newLockReleaseCmd(newCk))
	return cmd
}

func newLockAcquireCmd(newCk func() (*client.Clerk, error)) *cobra.Command {
	var owner string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "acquire <key>",
		Short: "Acquire a fenced lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := newCk()
			if err != nil {
				return err
			}
			result, err := ck.LockAcquire(args[0], owner, ttl)
			if err != nil {
				return err
			}
			if !result.Acquired {
				fmt.Printf("denied, held by %q\n", result.CurrentOwner)
				return nil
			}
			fmt.Printf("acquired, fence_token=%d\n", result.FenceToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "claiming owner id")
	cmd.Flags().DurationVar(&ttl, "ttl", 10*time.Second, "lease time-to-live")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newLockReleaseCmd(newCk func() (*client.Clerk, error)) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "release <key>",
		Short: "Release a fenced lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ck, err := newCk()
			if err != nil {
				return err
			}
			released, err := ck.LockRelease(args[0], owner)
			if err != nil {
				return err
			}
			fmt.Println(released)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "releasing owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
