package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/theory/jsonpath"
)

type locationStateJSON struct {
	LocationID     string   `json:"location_id"`
	IsOccupied     bool     `json:"is_occupied"`
	Contributions  []any    `json:"contributions"`
	LockedBy       []string `json:"locked_by"`
	NextExpiration *string  `json:"next_expiration,omitempty"`
}

func newOccupancyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "occupancy",
		Aliases: []string{"occ"},
		Short:   "Query and mutate occupancy state",
	}
	cmd.AddCommand(
		newTriggerCmd(),
		newClearCmd(),
		newVacateCmd(),
		newVacateAreaCmd(),
		newLockCmd(),
		newUnlockCmd(),
		newUnlockAllCmd(),
		newStateCmd(),
		newDumpCmd(),
	)
	return cmd
}

func newTriggerCmd() *cobra.Command {
	var timeout int
	c := &cobra.Command{
		Use:   "trigger <location-id> <source-id>",
		Short: "Report a source becoming active at a Location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0], "source_id": args[1]}
			if cmd.Flags().Changed("timeout") {
				req["timeout_seconds"] = timeout
			}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/trigger", req, nil)
		},
	}
	c.Flags().IntVar(&timeout, "timeout", 0, "contribution timeout in seconds (default: Location's configured default)")
	return c
}

func newClearCmd() *cobra.Command {
	var trailing int
	c := &cobra.Command{
		Use:   "clear <location-id> <source-id>",
		Short: "Report a source becoming inactive at a Location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0], "source_id": args[1]}
			if cmd.Flags().Changed("trailing-timeout") {
				req["trailing_timeout_seconds"] = trailing
			}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/clear", req, nil)
		},
	}
	c.Flags().IntVar(&trailing, "trailing-timeout", 0, "trailing timeout in seconds (default: Location's configured default)")
	return c
}

func newVacateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacate <location-id>",
		Short: "Remove every contribution at a Location (no-op while it is locked)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0]}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/vacate", req, nil)
		},
	}
}

func newVacateAreaCmd() *cobra.Command {
	var includeLocked bool
	c := &cobra.Command{
		Use:   "vacate-area <location-id> <source-id>",
		Short: "Vacate a Location and every descendant, skipping locked ones",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0], "source_id": args[1], "include_locked": includeLocked}
			var out struct {
				Affected []string `json:"affected"`
			}
			if err := clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/vacate_area", req, &out); err != nil {
				return err
			}
			fmt.Println(strings.Join(out.Affected, "\n"))
			return nil
		},
	}
	c.Flags().BoolVar(&includeLocked, "include-locked", false, "unlock locked Locations and vacate them too")
	return c
}

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <location-id> <source-id>",
		Short: "Lock a Location under a source id, suspending its contributions' timeouts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0], "source_id": args[1]}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/lock", req, nil)
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <location-id> <source-id>",
		Short: "Release one source's lock at a Location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0], "source_id": args[1]}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/unlock", req, nil)
		},
	}
}

func newUnlockAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock-all <location-id>",
		Short: "Release every lock at a Location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"location_id": args[0]}
			return clientFromCmd(cmd).do(context.Background(), "POST", "/v1/occupancy/unlock_all", req, nil)
		},
	}
}

func newStateCmd() *cobra.Command {
	var jsonPathExpr string
	c := &cobra.Command{
		Use:   "state <location-id>",
		Short: "Show a Location's current occupancy state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := clientFromCmd(cmd).do(context.Background(), "GET", "/v1/occupancy/"+args[0], nil, &raw); err != nil {
				return err
			}
			if jsonPathExpr != "" {
				result, err := selectJSONPath(jsonPathExpr, raw)
				if err != nil {
					return err
				}
				return newPrinter("json").json(result)
			}

			var out locationStateJSON
			if err := json.Unmarshal(raw, &out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(out)
			}
			p.kv([][2]string{
				{"location_id", out.LocationID},
				{"occupied", strconv.FormatBool(out.IsOccupied)},
				{"locked_by", strings.Join(out.LockedBy, ",")},
			})
			return nil
		},
	}
	c.Flags().StringVar(&jsonPathExpr, "jsonpath", "", "filter the result through an RFC 9535 JSONPath expression")
	return c
}

func newDumpCmd() *cobra.Command {
	var jsonPathExpr string
	c := &cobra.Command{
		Use:   "dump",
		Short: "Dump the full occupancy engine snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := clientFromCmd(cmd).do(context.Background(), "GET", "/v1/occupancy/dump", nil, &raw); err != nil {
				return err
			}
			if jsonPathExpr != "" {
				result, err := selectJSONPath(jsonPathExpr, raw)
				if err != nil {
					return err
				}
				return newPrinter("json").json(result)
			}

			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return newPrinter("json").json(out)
		},
	}
	c.Flags().StringVar(&jsonPathExpr, "jsonpath", "", "filter the result through an RFC 9535 JSONPath expression")
	return c
}

// selectJSONPath decodes raw as generic JSON and returns the values an
// RFC 9535 JSONPath expression selects from it, for debugging propagation
// chains without picking through a full state dump by hand.
func selectJSONPath(expr string, raw json.RawMessage) ([]any, error) {
	path, err := jsonpath.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse jsonpath %q: %w", expr, err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return path.Select(data), nil
}
