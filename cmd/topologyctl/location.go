package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type locationJSON struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ParentID       string         `json:"parent_id,omitempty"`
	IsExplicitRoot bool           `json:"is_explicit_root,omitempty"`
	EntityIDs      []string       `json:"entity_ids,omitempty"`
	Aliases        []string       `json:"aliases,omitempty"`
	Modules        map[string]any `json:"modules,omitempty"`
}

func newLocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "location",
		Aliases: []string{"locations", "loc"},
		Short:   "Manage the Location Tree",
	}
	cmd.AddCommand(
		newLocationCreateCmd(),
		newLocationListCmd(),
		newLocationGetCmd(),
		newLocationDeleteCmd(),
		newLocationReparentCmd(),
	)
	return cmd
}

func newLocationCreateCmd() *cobra.Command {
	var parentID string
	var isRoot bool
	var entityIDs, aliases []string

	c := &cobra.Command{
		Use:   "create <id> <name>",
		Short: "Create a Location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := clientFromCmd(cmd)
			req := map[string]any{
				"id":               args[0],
				"name":             args[1],
				"parent_id":        parentID,
				"is_explicit_root": isRoot,
				"entity_ids":       entityIDs,
				"aliases":          aliases,
			}
			var out locationJSON
			if err := cl.do(context.Background(), "POST", "/v1/locations", req, &out); err != nil {
				return err
			}
			return newPrinter(outputFormat(cmd)).json(out)
		},
	}
	c.Flags().StringVar(&parentID, "parent", "", "parent Location ID")
	c.Flags().BoolVar(&isRoot, "explicit-root", false, "mark as an explicit root Location")
	c.Flags().StringSliceVar(&entityIDs, "entity", nil, "entity ID contributing to this Location (repeatable)")
	c.Flags().StringSliceVar(&aliases, "alias", nil, "alternate name (repeatable)")
	return c
}

func newLocationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all Locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := clientFromCmd(cmd)
			var out []locationJSON
			if err := cl.do(context.Background(), "GET", "/v1/locations", nil, &out); err != nil {
				return err
			}
			p := newPrinter(outputFormat(cmd))
			if outputFormat(cmd) == "json" {
				return p.json(out)
			}
			var rows [][]string
			for _, l := range out {
				rows = append(rows, []string{l.ID, l.Name, l.ParentID, strings.Join(l.Aliases, ",")})
			}
			p.table([]string{"ID", "NAME", "PARENT", "ALIASES"}, rows)
			return nil
		},
	}
}

func newLocationGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single Location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := clientFromCmd(cmd)
			var out locationJSON
			if err := cl.do(context.Background(), "GET", "/v1/locations/"+args[0], nil, &out); err != nil {
				return err
			}
			return newPrinter(outputFormat(cmd)).json(out)
		},
	}
}

func newLocationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a Location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := clientFromCmd(cmd)
			if err := cl.do(context.Background(), "DELETE", "/v1/locations/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func newLocationReparentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reparent <id> <new-parent-id>",
		Short: "Move a Location to a new parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := clientFromCmd(cmd)
			req := map[string]string{"parent_id": args[1]}
			var out locationJSON
			if err := cl.do(context.Background(), "POST", "/v1/locations/"+args[0]+"/reparent", req, &out); err != nil {
				return err
			}
			return newPrinter(outputFormat(cmd)).json(out)
		},
	}
}
