package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dbimage/internal/api"
	"dbimage/internal/config"
	"dbimage/internal/server"
)

func newPutCmd(cfg *config.Config) *cobra.Command {
	var (
		kind      string
		mediaType string
	)

	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload image files through a named upload kind",
		Args:  requireAtLeastArgs(1, "at least one file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := uploadField(kind)
			if err != nil {
				return err
			}

			files := make([]api.UploadFile, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				files = append(files, api.UploadFile{
					Field:     field,
					Filename:  filepath.Base(path),
					MediaType: firstNonEmpty(mediaType, detectMediaType(path, data)),
					Data:      data,
				})
			}

			return withClient(cmd.Context(), cfg, func(client *api.Client) error {
				resp, err := client.Upload(cmd.Context(), kind, files...)
				if err != nil {
					return err
				}
				if structuredOutput {
					return writeStructured(resp)
				}
				return writeImageRefs(resp.Images)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", server.PresetCover, "upload kind: "+strings.Join(server.PresetNames(server.UploadPresets(nil)), ", "))
	cmd.Flags().StringVar(&mediaType, "type", "", "declared media type (default detected from the file)")
	return cmd
}

func uploadField(kind string) (string, error) {
	preset, ok := server.UploadPresets(nil)[kind]
	if !ok || len(preset.Fields) == 0 {
		return "", fmt.Errorf("unknown upload kind %q (want one of %s)", kind, strings.Join(server.PresetNames(server.UploadPresets(nil)), ", "))
	}
	return preset.Fields[0], nil
}

func detectMediaType(path string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	detected, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return detected
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
