package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"doorkeeper/internal/ipc"
)

func newIdentityCommand(ctx *commandContext) *cobra.Command {
	identityCmd := &cobra.Command{
		Use:     "identity",
		Aliases: []string{"user"},
		Short:   "Manage enrolled identities",
	}

	var listOutput string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IdentityList()
				if err != nil {
					return err
				}
				if done, err := writeStructured(cmd, listOutput, resp.Users); done {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Users) == 0 {
					fmt.Fprintln(out, "No identities enrolled")
					return nil
				}
				rows := make([][]string, 0, len(resp.Users))
				for _, u := range resp.Users {
					rows = append(rows, []string{
						strconv.FormatInt(u.ID, 10),
						u.Name,
						u.AccessLevel,
						strconv.Itoa(u.NumEmbeddings),
						u.UpdatedAt,
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{header: "ID", numeric: true},
					{header: "Name"},
					{header: "Access"},
					{header: "Samples", numeric: true},
					{header: "Updated"},
				}, rows))
				return nil
			})
		},
	}
	addOutputFlag(listCmd, &listOutput)

	var addAccess string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Enroll a new identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IdentityAdd(args[0], addAccess)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (id %d, %s)\n", resp.User.Name, resp.User.ID, resp.User.AccessLevel)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addAccess, "access", "family", "Access level: admin, family, friend, or stranger")

	var updateName, updateAccess string
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename an identity or change its access level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := ipc.IdentityUpdateRequest{ID: id}
			if cmd.Flags().Changed("name") {
				req.Name = &updateName
			}
			if cmd.Flags().Changed("access") {
				req.AccessLevel = &updateAccess
			}
			if req.Name == nil && req.AccessLevel == nil {
				return errors.New("nothing to update; pass --name or --access")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.IdentityUpdate(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (id %d, %s)\n", resp.User.Name, resp.User.ID, resp.User.AccessLevel)
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&updateName, "name", "", "New display name")
	updateCmd.Flags().StringVar(&updateAccess, "access", "", "New access level")

	removeCmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an identity and its samples",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.IdentityRemove(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed identity %d\n", id)
				return nil
			})
		},
	}

	identityCmd.AddCommand(listCmd, addCmd, updateCmd, removeCmd)
	return identityCmd
}

func newSampleCommand(ctx *commandContext) *cobra.Command {
	sampleCmd := &cobra.Command{
		Use:     "sample",
		Aliases: []string{"image"},
		Short:   "Manage enrollment samples",
	}

	var listOutput string
	listCmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List samples for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SampleList(id)
				if err != nil {
					return err
				}
				if done, err := writeStructured(cmd, listOutput, resp.Images); done {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Images) == 0 {
					fmt.Fprintln(out, "No samples enrolled")
					return nil
				}
				rows := make([][]string, 0, len(resp.Images))
				for _, img := range resp.Images {
					rows = append(rows, []string{img.ImgName, img.CreatedAt})
				}
				fmt.Fprint(out, renderTable([]column{{header: "Label"}, {header: "Created"}}, rows))
				return nil
			})
		},
	}
	addOutputFlag(listCmd, &listOutput)

	var file, vector string
	addCmd := &cobra.Command{
		Use:   "add <id> <label>",
		Short: "Enroll a sample from a JPEG file or a raw embedding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := ipc.SampleAddRequest{ID: id, Label: args[1]}
			switch {
			case file != "" && vector != "":
				return errors.New("pass either --file or --embedding, not both")
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				req.Image = data
			case vector != "":
				req.Embedding, err = parseVector(vector)
				if err != nil {
					return err
				}
			default:
				return errors.New("a sample needs --file or --embedding")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SampleAdd(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %q for %s (%d samples)\n", req.Label, resp.User.Name, resp.User.NumEmbeddings)
				return nil
			})
		},
	}
	addCmd.Flags().StringVarP(&file, "file", "f", "", "JPEG image to embed")
	addCmd.Flags().StringVar(&vector, "embedding", "", "Comma-separated embedding values")

	removeCmd := &cobra.Command{
		Use:     "remove <id> <label>",
		Aliases: []string{"rm"},
		Short:   "Delete one sample",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SampleRemove(id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from %s (%d samples left)\n", args[1], resp.User.Name, resp.User.NumEmbeddings)
				return nil
			})
		},
	}

	sampleCmd.AddCommand(listCmd, addCmd, removeCmd)
	return sampleCmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid identity id %q", raw)
	}
	return id, nil
}

func parseVector(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding value %q", part)
		}
		out = append(out, float32(v))
	}
	return out, nil
}
