package main

import (
	"os"

	"github.com/spf13/cobra"

	"dbimage/internal/api"
	"dbimage/internal/config"
	"dbimage/internal/models"
)

func newGetCmd(cfg *config.Config) *cobra.Command {
	var (
		outPath string
		byName  bool
	)

	cmd := &cobra.Command{
		Use:   "get <id|filename>",
		Short: "Download a stored image by id or by filename",
		Args:  requireExactlyArgs(1, "an image id or filename is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return withClient(cmd.Context(), cfg, func(client *api.Client) error {
				var (
					content api.ImageContent
					err     error
				)
				if id, parseErr := models.ParseImageID(key); parseErr == nil && !byName {
					content, err = client.ImageByID(cmd.Context(), id)
				} else {
					content, err = client.ImageByFilename(cmd.Context(), key)
				}
				if err != nil {
					return err
				}

				if outPath == "" || outPath == "-" {
					_, err = os.Stdout.Write(content.Data)
					return err
				}
				return os.WriteFile(outPath, content.Data, 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the image to this file instead of stdout")
	cmd.Flags().BoolVar(&byName, "by-name", false, "treat the argument as a filename even when it is numeric")
	return cmd
}
