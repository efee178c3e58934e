package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/damacus/iron-objects/internal/services"
	"github.com/damacus/iron-objects/internal/utils"
)

const lsTimeFormat = "2006-01-02 15:04:05"

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List one folder of the bucket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			path := ""
			if len(args) == 1 {
				path = utils.NormalizePrefix(args[0])
			}
			result, err := s.client.ListFiles(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range result.Folders {
				fmt.Fprintf(out, "%19s %10s %s\n", "", "PRE", f.Name+"/")
			}
			for _, obj := range result.Files {
				if obj.Key == path {
					continue
				}
				fmt.Fprintf(out, "%19s %10d %s\n", obj.LastModified.Local().Format(lsTimeFormat), obj.Size, obj.Name)
			}
			if result.Truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: listing truncated, only the first page is shown")
			}
			return nil
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	var (
		path        string
		contentType string
		meta        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			s, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			var opts []services.UploadOption
			if contentType != "" {
				opts = append(opts, services.WithContentType(contentType))
			}
			result, err := s.client.UploadFile(cmd.Context(), data, filepath.Base(args[0]), strings.Trim(path, "/"), meta, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upload: %s to s3://%s/%s (%s)\n",
				args[0], s.bucket, result.Key, utils.FormatBytes(uint64(result.Size)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "folder to upload into")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type (default detected from the data)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata as key=value, repeatable")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			data, err := s.client.DownloadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				output = args[0][strings.LastIndex(args[0], "/")+1:]
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "download: s3://%s/%s to %s\n", s.bucket, args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `destination file, "-" for stdout (default the key's base name)`)
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.client.DeleteFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delete: s3://%s/%s\n", s.bucket, result.Key)
			return nil
		},
	}
}

func newForgetCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove the saved secret (or, with --all, every saved setting)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			configs, store, err := a.configStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if all {
				return configs.Clear(cmd.Context())
			}
			return configs.ForgetSecret(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also remove endpoint, region, bucket and access key")
	return cmd
}
